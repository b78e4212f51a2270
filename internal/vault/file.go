package vault

import (
	"os"

	"github.com/pkg/errors"
)

const fileMode = 0600

// readFile returns the contents of path. A missing file is not an error:
// exists is false and data is nil.
func readFile(path string) (data []byte, exists bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "cannot read file")
	}
	return data, true, nil
}

// writeFile replaces the contents of path with data. The file is closed on
// every path; a failed close is reported when the write itself succeeded.
func writeFile(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return errors.Wrap(err, "cannot open file for writing")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "cannot close file")
		}
	}()
	if _, err := f.Write(data); err != nil {
		return errors.Wrap(err, "cannot write file")
	}
	return nil
}
