package envelope

import (
	"crypto/sha256"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of a derived key in bytes.
	KeySize = 32

	kdfIterations = 100000
	kdfSaltSize   = 16
)

// zeroSalt is the fixed salt every key is derived with. See the package
// documentation.
var zeroSalt = make([]byte, kdfSaltSize)

// Key is a symmetric key derived from a master password.
type Key [KeySize]byte

// DeriveKey turns a master password into a Key. The result only depends on
// the password, so it is identical across calls and processes.
func DeriveKey(master string) Key {
	var k Key
	copy(k[:], pbkdf2.Key([]byte(master), zeroSalt, kdfIterations, KeySize, sha256.New))
	return k
}

// Encode returns the urlsafe base64 form of the key, the format Fernet
// implementations accept as a key string.
func (k Key) Encode() string {
	return k.fernetKey().Encode()
}

// String never prints the key material.
func (k Key) String() string {
	return "envelope.Key(redacted)"
}

func (k Key) fernetKey() *fernet.Key {
	fk := fernet.Key(k)
	return &fk
}
