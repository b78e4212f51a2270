package envelope

import (
	"github.com/fernet/fernet-go"
	"github.com/pkg/errors"
)

// ErrAuthentication is returned by Open when a token was not produced by the
// given key: the key is wrong, the token was modified, or it is not a token
// at all.
var ErrAuthentication = errors.New("authentication failed")

// noExpiry disables the token age check.
const noExpiry = 0

// Seal encrypts and signs plaintext with key.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, key.fernetKey())
	if err != nil {
		return nil, errors.Wrap(err, "cannot seal plaintext")
	}
	return tok, nil
}

// Open verifies token against key and returns the plaintext it carries.
// Any failure is reported as ErrAuthentication and no plaintext is returned.
func Open(key Key, token []byte) ([]byte, error) {
	if len(token) == 0 {
		return nil, errors.Wrap(ErrAuthentication, "empty token")
	}
	msg := fernet.VerifyAndDecrypt(token, noExpiry, []*fernet.Key{key.fernetKey()})
	if msg == nil {
		return nil, errors.WithStack(ErrAuthentication)
	}
	return msg, nil
}
