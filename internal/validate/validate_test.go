package validate

import (
	"testing"

	"github.com/modfin/utskick"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		record utskick.Record
		ok     bool
		reason string
	}{
		{
			name:   "valid",
			record: utskick.Record{Name: "Ada", Email: "ada@example.com"},
			ok:     true,
		},
		{
			name:   "valid without name",
			record: utskick.Record{Email: "ada@example.com"},
			ok:     true,
		},
		{
			name:   "empty email",
			record: utskick.Record{Name: "Ada", Email: "   "},
			reason: "Invalid data: Email is empty",
		},
		{
			name:   "no at sign",
			record: utskick.Record{Email: "ada.example.com"},
			reason: "Invalid data: Email format is invalid",
		},
		{
			name:   "no dot in domain",
			record: utskick.Record{Email: "ada@localhost"},
			reason: "Invalid data: Email format is invalid",
		},
		{
			name:   "doubled dots in local part",
			record: utskick.Record{Email: "a..da@example.com"},
			reason: "Invalid data: Email format is invalid",
		},
		{
			name:   "disposable domain",
			record: utskick.Record{Email: "ada@mailinator.com"},
			reason: "Invalid data: Disposable email address detected",
		},
		{
			name:   "spam trap",
			record: utskick.Record{Email: "test42@example.com"},
			reason: "Invalid data: Potential spam trap email",
		},
		{
			name:   "role based",
			record: utskick.Record{Email: "info@example.com"},
			reason: "Invalid data: Role-based email address (low engagement)",
		},
		{
			name:   "unnormalized but fine",
			record: utskick.Record{Email: "  Ada@Example.COM "},
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.record)
			assert.Equal(t, tt.ok, res.OK)
			if !tt.ok {
				assert.Equal(t, tt.reason, res.Reason)
			}
		})
	}
}

func TestValidSyntax(t *testing.T) {
	valid := []string{"a@x.com", "first.last@sub.domain.org", "a+tag@x.co"}
	for _, e := range valid {
		assert.True(t, ValidSyntax(e), e)
	}

	invalid := []string{
		"", "@x.com", "a@", "a@x", ".a@x.com", "a.@x.com",
		"a@.x.com", "a@x.com.", "a@-x.com", "a@x.com-",
	}
	for _, e := range invalid {
		assert.False(t, ValidSyntax(e), e)
	}
}

func TestIsRoleBasedExactMatchOnly(t *testing.T) {
	assert.True(t, IsRoleBased("support@x.com"))
	assert.False(t, IsRoleBased("supporter@x.com"), "only exact local part matches count")
}
