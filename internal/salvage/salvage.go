// Package salvage relocates directories that cannot be removed because they
// still hold content no package accounts for. Nothing is deleted: the
// directory is moved aside into a salvage area and recorded in a ledger so
// an operator can inspect it later.
package salvage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ledgerName      = "salvage.yaml"
	timestampLayout = "20060102T150405Z"
)

// Record describes one salvaged directory.
type Record struct {
	OriginalPath string    `yaml:"original_path"` // image-relative, no leading separator
	Destination  string    `yaml:"destination"`   // absolute path inside the salvage area
	SalvagedAt   time.Time `yaml:"salvaged_at"`
}

type ledger struct {
	Records []Record `yaml:"records"`
}

// Area is a salvage directory.
type Area struct {
	Dir string

	now func() time.Time
}

// New returns an Area rooted at dir. The directory is created lazily.
func New(dir string) *Area {
	return &Area{Dir: dir, now: time.Now}
}

// Salvage moves root/rel into the area and records it.
func (a *Area) Salvage(root, rel string) (Record, error) {
	src := filepath.Join(root, rel)
	if _, err := os.Lstat(src); err != nil {
		return Record{}, fmt.Errorf("salvage %s: %w", rel, err)
	}
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create salvage area: %w", err)
	}

	now := a.now
	if now == nil {
		now = time.Now
	}
	at := now().UTC()
	dst, err := a.destination(rel, at)
	if err != nil {
		return Record{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Record{}, fmt.Errorf("create salvage parent: %w", err)
	}
	if err := move(src, dst); err != nil {
		return Record{}, fmt.Errorf("salvage %s: %w", rel, err)
	}

	rec := Record{OriginalPath: filepath.ToSlash(rel), Destination: dst, SalvagedAt: at}
	if err := a.append(rec); err != nil {
		return rec, fmt.Errorf("record salvage of %s: %w", rel, err)
	}
	return rec, nil
}

// Records returns every salvage recorded in the area, oldest first.
func (a *Area) Records() ([]Record, error) {
	l, err := a.load()
	if err != nil {
		return nil, err
	}
	return l.Records, nil
}

// destination picks a free name for rel stamped with at.
func (a *Area) destination(rel string, at time.Time) (string, error) {
	base := filepath.Join(a.Dir, rel) + "-" + at.Format(timestampLayout)
	candidate := base
	for i := 1; ; i++ {
		_, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = base + "." + strconv.Itoa(i)
	}
}

func (a *Area) ledgerPath() string {
	return filepath.Join(a.Dir, ledgerName)
}

func (a *Area) load() (*ledger, error) {
	data, err := os.ReadFile(a.ledgerPath())
	if errors.Is(err, fs.ErrNotExist) {
		return &ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read salvage ledger: %w", err)
	}
	var l ledger
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse salvage ledger: %w", err)
	}
	return &l, nil
}

// append rewrites the ledger atomically with rec added.
func (a *Area) append(rec Record) error {
	l, err := a.load()
	if err != nil {
		return err
	}
	l.Records = append(l.Records, rec)
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	tmp := a.ledgerPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.ledgerPath())
}

// move renames src to dst, copying across devices when rename cannot.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	src = filepath.Clean(src)
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
