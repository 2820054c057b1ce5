package smtpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
)

// state of the probe session. States advance on complete server replies,
// never on partial reads.
type state int

const (
	stateConnecting state = iota
	stateGreeted
	stateHeloSent
	stateMailFromSent
	stateRcptToSent
	stateDone
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateGreeted:
		return "greeted"
	case stateHeloSent:
		return "helo-sent"
	case stateMailFromSent:
		return "mail-from-sent"
	case stateRcptToSent:
		return "rcpt-to-sent"
	}
	return "done"
}

// Dialer opens the transport to a mail exchanger. Injected so the state
// machine can be exercised without real sockets.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

type Config struct {
	// Helo is the identification sent after the greeting.
	Helo string
	// From is a fixed, non deliverable sender placeholder.
	From    string
	Timeout time.Duration
}

type Prober struct {
	cfg  Config
	dial Dialer
	log  *logrus.Logger
}

func NewProber(cfg Config, dial Dialer, lc *tools.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Helo == "" {
		cfg.Helo = "verify.local"
	}
	if cfg.From == "" {
		cfg.From = "verify@example.com"
	}
	if dial == nil {
		d := &net.Dialer{Timeout: cfg.Timeout}
		dial = d.DialContext
	}
	return &Prober{cfg: cfg, dial: dial, log: lc.New("smtpx")}
}

// Probe runs a partial SMTP handshake against addr to classify email without
// completing a delivery. One probe per connection, no retries. The session is
// closed with a QUIT and torn down on every exit path.
func (p *Prober) Probe(ctx context.Context, addr, email string) utskick.ProbeResult {
	res := utskick.ProbeResult{Email: email}

	conn, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		res.Verdict = utskick.VerdictError
		res.Reason = err.Error()
		return res
	}

	_ = conn.SetDeadline(time.Now().Add(p.cfg.Timeout))
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	defer func() {
		_ = writeLine(w, "QUIT")
		_ = conn.Close()
	}()

	st := stateConnecting
	for st != stateDone {
		rep, err := readReply(r)
		if err != nil {
			res.Verdict, res.Reason = verdictOfTransportError(err)
			p.log.WithField("state", st.String()).WithField("mx", addr).Debugf("probe aborted: %v", err)
			return res
		}

		switch st {
		case stateConnecting:
			if rep.code != 220 {
				res.Verdict = utskick.VerdictUnknown
				res.Reason = fmt.Sprintf("Unexpected response: %s", rep.prefix(50))
				return res
			}
			if err = writeLine(w, "HELO %s", p.cfg.Helo); err != nil {
				res.Verdict = utskick.VerdictError
				res.Reason = err.Error()
				return res
			}
			st = stateGreeted

		case stateGreeted:
			if !rep.positive() {
				res.Verdict = utskick.VerdictUnknown
				res.Reason = fmt.Sprintf("Unexpected response: %s", rep.prefix(50))
				return res
			}
			if err = writeLine(w, "MAIL FROM:<%s>", p.cfg.From); err != nil {
				res.Verdict = utskick.VerdictError
				res.Reason = err.Error()
				return res
			}
			st = stateHeloSent

		case stateHeloSent:
			if !rep.positive() {
				res.Verdict = utskick.VerdictUnknown
				res.Reason = fmt.Sprintf("Unexpected response: %s", rep.prefix(50))
				return res
			}
			if err = writeLine(w, "RCPT TO:<%s>", email); err != nil {
				res.Verdict = utskick.VerdictError
				res.Reason = err.Error()
				return res
			}
			st = stateMailFromSent

		case stateMailFromSent:
			res.Verdict, res.Reason = verdictOfRcptReply(rep)
			st = stateDone
		}
	}
	return res
}

// verdictOfRcptReply is the actual mailbox existence classification. Only an
// affirmative reply to the recipient declaration may yield a valid verdict.
func verdictOfRcptReply(rep reply) (utskick.Verdict, string) {
	switch {
	case rep.positive():
		return utskick.VerdictValid, "Mailbox exists"
	case rep.permanent():
		return utskick.VerdictInvalid, "Mailbox does not exist"
	case rep.temporary():
		return utskick.VerdictUnknown, "Temporary error"
	default:
		return utskick.VerdictUnknown, fmt.Sprintf("Unexpected response: %s", rep.prefix(50))
	}
}

func verdictOfTransportError(err error) (utskick.Verdict, string) {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return utskick.VerdictUnknown, "Timeout"
	}
	return utskick.VerdictError, err.Error()
}
