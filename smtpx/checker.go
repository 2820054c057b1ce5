package smtpx

import (
	"context"
	"errors"
	"strings"

	"github.com/modfin/henry/slicez"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/dnsx"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// Checker classifies a single address end to end: skip-list, mail exchanger
// resolution and the SMTP probe against the preferred exchanger.
type Checker struct {
	dns    dnsx.Client
	prober *Prober
	skip   map[string]bool
	log    *logrus.Logger
}

func NewChecker(dns dnsx.Client, prober *Prober, skipProviders []string, lc *tools.Logger) *Checker {
	skip := map[string]bool{}
	for _, p := range skipProviders {
		skip[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &Checker{
		dns:    dns,
		prober: prober,
		skip:   skip,
		log:    lc.New("checker"),
	}
}

// Check returns the probe result for email plus the number of mail exchangers
// found for its domain. Skip-listed provider domains short-circuit before any
// lookup, these providers accept-then-bounce and a probe proves nothing.
func (c *Checker) Check(ctx context.Context, email string) (utskick.ProbeResult, int) {
	res := utskick.ProbeResult{Email: email}

	domain, err := tools.DomainOfEmail(email)
	if err != nil {
		res.Verdict = utskick.VerdictError
		res.Reason = err.Error()
		return res, 0
	}
	domain = strings.ToLower(domain)

	if c.skip[domain] {
		res.Verdict = utskick.VerdictSkipped
		res.Reason = "Big provider (they lie about mailbox existence)"
		return res, 0
	}

	hosts, err := c.dns.MX(domain)
	if err != nil {
		if errors.Is(err, dnsx.ErrNoMailServer) {
			res.Verdict = utskick.VerdictInvalid
			res.Reason = "No MX records"
			return res, 0
		}
		res.Verdict = utskick.VerdictError
		res.Reason = err.Error()
		return res, 0
	}
	if len(hosts) == 0 {
		res.Verdict = utskick.VerdictInvalid
		res.Reason = "No MX records"
		return res, 0
	}

	mx := slicez.Nth(hosts, 0)
	c.log.WithField("email", email).WithField("mx", mx.Name).Debug("probing preferred exchanger")

	res = c.prober.Probe(ctx, mx.Addr(), email)
	return res, len(hosts)
}
