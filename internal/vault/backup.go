package vault

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const backupTimeFormat = "20060102_150405"

// Backup copies the encrypted vault file, unchanged, into dir and returns the
// path of the copy. The copy opens with the same master password.
func (v *Vault) Backup(dir string) (string, error) {
	data, exists, err := readFile(v.path)
	if err != nil {
		return "", errors.Wrapf(err, "cannot back up vault %q", v.path)
	}
	if !exists {
		return "", errors.Wrapf(ErrNothingToBackup, "cannot back up vault %q", v.path)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.Wrapf(err, "cannot create backup directory %q", dir)
	}
	name := fmt.Sprintf("vault_backup_%s.enc", v.now().Format(backupTimeFormat))
	dst := filepath.Join(dir, name)
	if err := writeFile(dst, data); err != nil {
		return "", errors.Wrapf(err, "cannot write backup %q", dst)
	}

	v.log.Info().Str("backup", dst).Msg("vault backed up")
	return dst, nil
}
