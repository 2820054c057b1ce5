package validate

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/modfin/henry/slicez"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
)

// Lists mirror what the campaign has been burned by before. Overridable for
// tests, appended to from config.

var DisposableDomains = []string{
	"tempmail.com", "throwaway.email", "10minutemail.com", "guerrillamail.com",
	"mailinator.com", "maildrop.cc", "temp-mail.org", "yopmail.com",
	"sharklasers.com", "trashmail.com", "getnada.com", "fakeinbox.com",
}

// Role addresses are usually spam traps or dead inboxes, low engagement
// either way.
var RoleBasedLocalParts = []string{
	"admin", "info", "support", "sales", "contact", "help",
	"noreply", "no-reply", "postmaster", "webmaster", "abuse",
}

var spamTrapPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^test\d*@`),
	regexp.MustCompile(`(?i)^spam@`),
	regexp.MustCompile(`(?i)^abuse@`),
	regexp.MustCompile(`(?i)^noreply@`),
	regexp.MustCompile(`(?i)^no-reply@`),
}

type Result struct {
	OK     bool
	Reason string
}

func invalid(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Check validates a record without touching the network. Name is optional,
// the sender falls back to a generic greeting.
func Check(r utskick.Record) Result {
	if strings.TrimSpace(r.Email) == "" {
		return invalid("Invalid data: Email is empty")
	}

	email := tools.NormalizeEmail(r.Email)

	if !ValidSyntax(email) {
		return invalid("Invalid data: Email format is invalid")
	}
	if IsDisposable(email) {
		return invalid("Invalid data: Disposable email address detected")
	}
	if IsSpamTrap(email) {
		return invalid("Invalid data: Potential spam trap email")
	}
	if IsRoleBased(email) {
		return invalid("Invalid data: Role-based email address (low engagement)")
	}
	return Result{OK: true}
}

// ValidSyntax goes beyond mail.ParseAddress, an address can parse and still
// be undeliverable garbage (no dot in the domain, doubled dots and so on).
func ValidSyntax(email string) bool {
	if _, err := mail.ParseAddress(email); err != nil {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	local, domain := parts[0], parts[1]

	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return false
	}
	if strings.Contains(local, "..") {
		return false
	}

	if len(domain) == 0 || len(domain) > 255 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") {
		return false
	}
	return true
}

func IsDisposable(email string) bool {
	domain, err := tools.DomainOfEmail(email)
	if err != nil {
		return false
	}
	return slicez.Contains(DisposableDomains, strings.ToLower(domain))
}

func IsRoleBased(email string) bool {
	local := strings.ToLower(tools.LocalOfEmail(email))
	return slicez.Contains(RoleBasedLocalParts, local)
}

func IsSpamTrap(email string) bool {
	for _, p := range spamTrapPatterns {
		if p.MatchString(email) {
			return true
		}
	}
	return false
}
