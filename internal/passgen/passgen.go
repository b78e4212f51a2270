// Package passgen generates random passwords.
package passgen

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Character classes.
const (
	Upper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Lower   = "abcdefghijklmnopqrstuvwxyz"
	Digits  = "0123456789"
	Special = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

const (
	// DefaultLength is used when no usable length is given.
	DefaultLength = 16

	MinLength = 4
	MaxLength = 128
)

// ErrNoClasses is returned when every character class is disabled.
var ErrNoClasses = errors.New("no character classes selected")

// Options selects the character classes a password is drawn from.
type Options struct {
	Upper   bool
	Lower   bool
	Digits  bool
	Special bool
}

// AllClasses enables every character class.
var AllClasses = Options{Upper: true, Lower: true, Digits: true, Special: true}

func (o Options) classes() []string {
	var cs []string
	if o.Upper {
		cs = append(cs, Upper)
	}
	if o.Lower {
		cs = append(cs, Lower)
	}
	if o.Digits {
		cs = append(cs, Digits)
	}
	if o.Special {
		cs = append(cs, Special)
	}
	return cs
}

// ClampLength maps n into [MinLength, MaxLength]. Non-positive values map to
// DefaultLength.
func ClampLength(n int) int {
	switch {
	case n <= 0:
		return DefaultLength
	case n < MinLength:
		return MinLength
	case n > MaxLength:
		return MaxLength
	}
	return n
}

// Generate returns a password of the given length drawn uniformly from the
// selected classes. When length allows, every selected class appears at
// least once.
func Generate(length int, opts Options) (string, error) {
	classes := opts.classes()
	if len(classes) == 0 {
		return "", ErrNoClasses
	}
	if length <= 0 {
		return "", errors.Errorf("invalid password length %d", length)
	}
	charset := strings.Join(classes, "")

	out := make([]byte, length)
	for i := range out {
		c, err := pick(charset)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	if length >= len(classes) {
		// Put one character of each class at distinct random positions.
		positions, err := perm(length)
		if err != nil {
			return "", err
		}
		for i, class := range classes {
			c, err := pick(class)
			if err != nil {
				return "", err
			}
			out[positions[i]] = c
		}
	}
	return string(out), nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, errors.Wrap(err, "cannot read random number")
	}
	return int(v.Int64()), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// perm returns a random permutation of [0, n) (Fisher-Yates).
func perm(n int) ([]int, error) {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return nil, err
		}
		p[i], p[j] = p[j], p[i]
	}
	return p, nil
}
