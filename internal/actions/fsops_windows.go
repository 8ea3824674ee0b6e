//go:build windows

package actions

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

func chownPath(path string, uid, gid int) error {
	return &fs.PathError{Op: "chown", Path: path, Err: errors.ErrUnsupported}
}

func lchownPath(path string, uid, gid int) error {
	return &fs.PathError{Op: "lchown", Path: path, Err: errors.ErrUnsupported}
}

func removeDir(path string) error {
	return os.Remove(path)
}

func statOwner(path string) (uid, gid int, err error) {
	return 0, 0, &fs.PathError{Op: "lstat", Path: path, Err: errors.ErrUnsupported}
}

func chownTolerated(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, fs.ErrPermission)
}

func isReadOnlyFS(err error) bool {
	return errors.Is(err, syscall.EROFS)
}

// ERROR_DIR_NOT_EMPTY
const errDirNotEmpty = syscall.Errno(145)

func isNotEmpty(err error) bool {
	return errors.Is(err, errDirNotEmpty) || errors.Is(err, syscall.ENOTEMPTY)
}

func isAccessDenied(err error) bool {
	return errors.Is(err, syscall.ERROR_ACCESS_DENIED) || errors.Is(err, syscall.EACCES)
}
