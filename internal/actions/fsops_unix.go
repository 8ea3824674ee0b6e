//go:build unix

package actions

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

func chownPath(path string, uid, gid int) error {
	if err := unix.Chown(path, uid, gid); err != nil {
		return &fs.PathError{Op: "chown", Path: path, Err: err}
	}
	return nil
}

func lchownPath(path string, uid, gid int) error {
	if err := unix.Lchown(path, uid, gid); err != nil {
		return &fs.PathError{Op: "lchown", Path: path, Err: err}
	}
	return nil
}

func removeDir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return &fs.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

// statOwner returns the numeric owner and group of path without following
// a final symlink.
func statOwner(path string) (uid, gid int, err error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, 0, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	return int(st.Uid), int(st.Gid), nil
}

// chownTolerated reports whether a chown failure leaves the install
// acceptable: the caller lacks the privilege or the filesystem has no
// notion of ownership.
func chownTolerated(err error) bool {
	return errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, errors.ErrUnsupported)
}

func isReadOnlyFS(err error) bool {
	return errors.Is(err, unix.EROFS)
}

func isNotEmpty(err error) bool {
	return errors.Is(err, unix.ENOTEMPTY) || errors.Is(err, unix.EEXIST)
}

func isAccessDenied(err error) bool {
	return errors.Is(err, unix.EACCES)
}
