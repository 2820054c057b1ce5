package sender

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// genericGreeting replaces the recipient name when the sheet holds nothing
// usable. The campaign audience is Arabic speaking.
const genericGreeting = "السيد/السيدة"

// placeholder in the template file that gets substituted per recipient.
const placeholder = "<name>"

type Result struct {
	Success   bool
	MessageID string
	Err       string
}

// Sender delivers one templated message per call.
type Sender interface {
	Send(ctx context.Context, r utskick.Record) Result
}

type Config struct {
	APIKey       string
	From         string
	Subject      string
	TemplateFile string
}

type Resend struct {
	client   *resend.Client
	from     string
	subject  string
	template string
	log      *logrus.Logger
}

// New fails fast when any of key, sender address or subject is missing.
// Configuration errors belong at startup, not in the middle of a batch.
func New(cfg Config, lc *tools.Logger) (*Resend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("resend api key is required")
	}
	if cfg.From == "" {
		return nil, errors.New("sender email is required")
	}
	if cfg.Subject == "" {
		return nil, errors.New("email subject is required")
	}

	tmpl, err := os.ReadFile(cfg.TemplateFile)
	if err != nil {
		return nil, fmt.Errorf("could not read email template %s: %w", cfg.TemplateFile, err)
	}

	return &Resend{
		client:   resend.NewClient(cfg.APIKey),
		from:     cfg.From,
		subject:  cfg.Subject,
		template: string(tmpl),
		log:      lc.New("sender"),
	}, nil
}

// Personalize substitutes the recipient name into the template, falling back
// to a generic greeting for empty and junk names.
func Personalize(template, name string) string {
	display := strings.TrimSpace(name)
	switch strings.ToLower(display) {
	case "", "none", "null", "n/a":
		display = genericGreeting
	}
	return strings.ReplaceAll(template, placeholder, display)
}

func (s *Resend) Send(ctx context.Context, r utskick.Record) Result {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{r.Email},
		Subject: s.subject,
		Html:    Personalize(s.template, r.Name),
		Headers: map[string]string{
			"X-Entity-Ref-ID": uuid.NewString(),
		},
	}

	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		s.log.WithError(err).WithField("email", r.Email).Info("send failed")
		return Result{Success: false, Err: err.Error()}
	}

	return Result{Success: true, MessageID: sent.Id}
}
