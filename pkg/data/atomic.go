package data

import (
	"os"
	"path/filepath"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
)

// writeAtomic creates path's replacement in a temporary file in the same
// directory, lets fill write it, then fsyncs, renames it into place and
// syncs the directory. On failure the previous file is untouched.
func writeAtomic(path string, fill func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to create temporary file").
			WithDetail("path", path)
	}
	tmpPath := tmp.Name()

	fail := func(err error, msg string) error {
		tmp.Close()
		os.Remove(tmpPath)
		if errors.TypeOf(err) != errors.ErrorTypeInternal {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeIO, msg).WithDetail("path", path)
	}

	if err := fill(tmp); err != nil {
		return fail(err, "failed to write temporary file")
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err, "failed to set file mode")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to close temporary file").WithDetail("path", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to rename file into place").WithDetail("path", path)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
