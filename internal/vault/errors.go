package vault

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/codersaadi/passvault/internal/envelope"
)

// ErrAuthentication aliases the envelope sentinel so callers only import vault.
var ErrAuthentication = envelope.ErrAuthentication

var (
	// ErrMalformed is returned when a decrypted payload is not a valid record set.
	ErrMalformed = errors.New("malformed record data")

	// ErrInvalidRecord is returned by Add for a credential that cannot be stored.
	ErrInvalidRecord = errors.New("invalid credential")

	// ErrNothingToBackup is returned by Backup before the vault was first saved.
	ErrNothingToBackup = errors.New("vault file does not exist")
)

// LoadError reports that an existing vault file could not be opened with the
// given master password. Err wraps ErrAuthentication or ErrMalformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load vault %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadFailure reports whether err means the master password is wrong or
// the vault file is corrupted. Callers ask for the master password again.
func IsLoadFailure(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
