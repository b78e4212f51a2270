package vault

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Records are stored as JSON, which cannot carry invalid UTF-8.
	if err := v.RegisterValidation("utf8", func(fl validator.FieldLevel) bool {
		return utf8.ValidString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// CredentialRecord is a single stored credential. Site is unique within a
// vault.
type CredentialRecord struct {
	Site     string `validate:"required,utf8"`
	Username string `validate:"utf8"`
	Password string `validate:"utf8"`
	Breached bool
}

// Validate reports whether r can be stored. The error wraps ErrInvalidRecord.
func (r CredentialRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.Wrapf(ErrInvalidRecord, "%v", err)
	}
	return nil
}

// matches reports whether query is a case-insensitive substring of the site
// or the username.
func (r CredentialRecord) matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(r.Site), q) ||
		strings.Contains(strings.ToLower(r.Username), q)
}
