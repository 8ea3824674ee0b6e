package actions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// Filesystem hooks. Tests swap these to inject faults such as EROFS or
// EPERM that cannot be produced on demand.
var (
	mkdir    = os.Mkdir
	mkdirAll = os.MkdirAll
	chmod    = os.Chmod
	chown    = chownPath
	lchown   = lchownPath
	rmdir    = removeDir
)

// parseMode parses a textual octal mode, mapping the setuid, setgid and
// sticky bits onto their fs.FileMode equivalents.
func parseMode(s string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if v > 0o7777 {
		return 0, strconv.ErrRange
	}
	mode := fs.FileMode(v & 0o777)
	if v&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if v&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if v&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode, nil
}

// formatMode renders the permission and special bits of m as octal text.
func formatMode(m fs.FileMode) string {
	v := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		v |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		v |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		v |= 0o1000
	}
	return "0" + strconv.FormatUint(uint64(v), 8)
}

const modeBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// makedirs creates path and any missing parents. Parents get 0755; the leaf
// gets mode regardless of the process umask. An existing leaf is reported
// as fs.ErrExist and left untouched.
func makedirs(path string, mode fs.FileMode) error {
	if err := mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := mkdir(path, mode); err != nil {
		return err
	}
	return chmod(path, mode)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// hasEntries reports whether the directory at path contains anything.
func hasEntries(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
