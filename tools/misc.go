package tools

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/modfin/henry/slicez"
)

// NormalizeEmail maps an address to its identity form, trimming surrounding
// and embedded whitespace and lowercasing. "  Foo@Bar.COM " and "foo@bar.com"
// normalize to the same string.
func NormalizeEmail(address string) string {
	address = strings.TrimSpace(address)
	address = strings.Join(strings.Fields(address), "")
	return strings.ToLower(address)
}

func DomainOfEmail(address string) (string, error) {
	parts := strings.Split(address, "@")
	if len(parts) < 2 || len(slicez.Nth(parts, -1)) == 0 {
		return "", errors.New("no domain was present in email address")
	}
	return slicez.Nth(parts, -1), nil
}

func LocalOfEmail(address string) string {
	return slicez.Nth(strings.Split(address, "@"), 0)
}

// Today returns the current calendar day as YYYY-MM-DD, the format used for
// the quota ledger and sent_date stamps.
func Today() string {
	return time.Now().Format("2006-01-02")
}

// DurationBetween picks a uniformly random duration in [min, max], used for
// pacing between deliverability probes.
func DurationBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
