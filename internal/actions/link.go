package actions

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// LinkAction delivers a symbolic link. target is stored verbatim.
type LinkAction struct {
	fsObject
}

// NewLink builds a link action.
func NewLink(attrs Attrs) (*LinkAction, error) {
	o, err := newFSObject("link", attrs)
	if err != nil {
		return nil, err
	}
	if _, err := requireKey("link", attrs, "target"); err != nil {
		return nil, err
	}
	return &LinkAction{fsObject: o}, nil
}

func (l *LinkAction) Target() string { return l.attrs.Get("target") }

func (l *LinkAction) Compare(other Action) int { return l.compare(other) }

func (l *LinkAction) Describe() string {
	return fmt.Sprintf("link      /%s -> %s", l.path, l.Target())
}

func (l *LinkAction) Validate(string) error { return nil }

// Install points path at target, replacing an existing symlink. Anything
// other than a symlink at path is left in place and reported.
func (l *LinkAction) Install(p Plan, orig Action) error {
	img := p.Image()
	path := img.Path(l.path)
	if err := mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure(KindInstall, l, "mkdir", "", err)
	}
	fi, err := os.Lstat(path)
	switch {
	case notExist(err):
	case err != nil:
		return failure(KindInstall, l, "lstat", "", err)
	case fi.Mode()&fs.ModeSymlink == 0:
		return failure(KindInstall, l, "symlink", typeName(fi.Mode().Type())+" in the way", fs.ErrExist)
	default:
		if cur, err := os.Readlink(path); err == nil && cur == l.Target() {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return failure(KindInstall, l, "unlink", "", err)
		}
	}
	if err := os.Symlink(l.Target(), path); err != nil {
		return failure(KindInstall, l, "symlink", "", err)
	}
	return nil
}

func (l *LinkAction) Verify(img *image.Image) VerifyResult {
	fi, res := verifyFSObject(img, &l.fsObject, fs.ModeSymlink)
	if fi == nil {
		return res
	}
	cur, err := os.Readlink(img.Path(l.path))
	if err != nil {
		res.errorf("unexpected error: %v", err)
	} else if cur != l.Target() {
		res.errorf("target: %s should be %s", cur, l.Target())
	}
	return res
}

func (l *LinkAction) Remove(p Plan) error {
	return unlink(l, p.Image().Path(l.path))
}

func (l *LinkAction) GenerateIndices() []IndexTuple {
	return l.pathIndices("link")
}

// HardLinkAction delivers a hard link to another object in the image. A
// relative target is resolved against the link's directory, an absolute one
// against the image root.
type HardLinkAction struct {
	fsObject
}

// NewHardLink builds a hardlink action.
func NewHardLink(attrs Attrs) (*HardLinkAction, error) {
	o, err := newFSObject("hardlink", attrs)
	if err != nil {
		return nil, err
	}
	if _, err := requireKey("hardlink", attrs, "target"); err != nil {
		return nil, err
	}
	return &HardLinkAction{fsObject: o}, nil
}

func (h *HardLinkAction) Target() string { return h.attrs.Get("target") }

// TargetPath returns the absolute location of the link target in img.
func (h *HardLinkAction) TargetPath(img *image.Image) string {
	t := h.Target()
	if filepath.IsAbs(t) {
		return img.Path(t)
	}
	return img.Path(filepath.Join(filepath.Dir(h.path), t))
}

func (h *HardLinkAction) Compare(other Action) int { return h.compare(other) }

func (h *HardLinkAction) Describe() string {
	return fmt.Sprintf("hardlink  /%s => %s", h.path, h.Target())
}

func (h *HardLinkAction) Validate(string) error { return nil }

func (h *HardLinkAction) Install(p Plan, orig Action) error {
	img := p.Image()
	path := img.Path(h.path)
	target := h.TargetPath(img)
	if err := mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure(KindInstall, h, "mkdir", "", err)
	}
	if fi, err := os.Lstat(path); err == nil {
		if ti, err := os.Stat(target); err == nil && os.SameFile(fi, ti) {
			return nil
		}
		if fi.IsDir() {
			return failure(KindInstall, h, "link", "directory in the way", fs.ErrExist)
		}
		if err := os.Remove(path); err != nil {
			return failure(KindInstall, h, "unlink", "", err)
		}
	}
	if err := os.Link(target, path); err != nil {
		return failure(KindInstall, h, "link", "", err)
	}
	return nil
}

func (h *HardLinkAction) Verify(img *image.Image) VerifyResult {
	fi, res := verifyFSObject(img, &h.fsObject, 0)
	if fi == nil {
		return res
	}
	ti, err := os.Stat(h.TargetPath(img))
	switch {
	case notExist(err):
		res.errorf("target: %s does not exist", h.Target())
	case err != nil:
		res.errorf("unexpected error: %v", err)
	case !os.SameFile(fi, ti):
		res.errorf("target: /%s is not linked to %s", h.path, h.Target())
	}
	return res
}

func (h *HardLinkAction) Remove(p Plan) error {
	return unlink(h, p.Image().Path(h.path))
}

func (h *HardLinkAction) GenerateIndices() []IndexTuple {
	return h.pathIndices("hardlink")
}

func unlink(a Action, path string) error {
	if err := os.Remove(path); err != nil && !notExist(err) {
		return failure(KindRemove, a, "unlink", "", err)
	}
	return nil
}
