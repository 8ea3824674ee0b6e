package actions

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// DirectoryAction delivers a directory with a given mode and ownership.
//
//	dir mode=0755 owner=root group=bin path=/usr/lib
type DirectoryAction struct {
	fsObject
}

// NewDirectory builds a dir action. Only path is checked here; mode, owner
// and group are checked by Validate.
func NewDirectory(attrs Attrs) (*DirectoryAction, error) {
	o, err := newFSObject("dir", attrs)
	if err != nil {
		return nil, err
	}
	return &DirectoryAction{fsObject: o}, nil
}

func (d *DirectoryAction) Compare(other Action) int { return d.compare(other) }

func (d *DirectoryAction) Describe() string {
	return fmt.Sprintf("dir       /%s (%s %s:%s)", d.path, d.Mode(), d.Owner(), d.Group())
}

func (d *DirectoryAction) Validate(fmri string) error {
	return d.validateCommon(d, fmri)
}

// Install creates the directory, or brings the mode and ownership of an
// existing one in line when orig describes what was delivered before.
func (d *DirectoryAction) Install(p Plan, orig Action) error {
	img := p.Image()
	fmri := p.DestinationFMRI()

	mode, err := installMode(d, fmri)
	if err != nil {
		return err
	}
	uid, gid, err := resolveOwner(d, img, fmri)
	if err != nil {
		return err
	}

	// An origin whose attributes no longer parse or resolve is treated as
	// differing in every respect.
	omode, ouid, ogid := fs.FileMode(0), -1, -1
	if orig != nil {
		if m, err := parseMode(orig.Attrs().Get("mode")); err == nil {
			omode = m
		}
		if u, g, err := resolveOwner(orig, img, p.OriginFMRI()); err == nil {
			ouid, ogid = u, g
		}
	}

	path := img.Path(d.path)
	if !img.Admin {
		mode |= 0o200
	}

	fresh := orig == nil || !isDir(path)
	if fresh {
		if err := makedirs(path, mode); err != nil {
			switch {
			case errors.Is(err, fs.ErrExist):
			case isReadOnlyFS(err) && isDir(path):
				img.Log.Debug().Str("path", path).Msg("read-only filesystem, directory present")
				return nil
			default:
				return failure(KindInstall, d, "mkdir", "", err)
			}
		}
	} else if omode != mode {
		if err := chmod(path, mode); err != nil {
			return failure(KindInstall, d, "chmod", "", err)
		}
	}

	if fresh || uid != ouid || gid != ogid {
		return setOwner(d, img, path, uid, gid, false)
	}
	return nil
}

func (d *DirectoryAction) Verify(img *image.Image) VerifyResult {
	_, res := verifyFSObject(img, &d.fsObject, fs.ModeDir)
	return res
}

// Remove deletes the directory. A directory that still holds content is
// moved to the image's salvage area instead.
func (d *DirectoryAction) Remove(p Plan) error {
	img := p.Image()
	path := img.Path(d.path)

	err := rmdir(path)
	switch {
	case err == nil, notExist(err):
		return nil
	case isNotEmpty(err), isAccessDenied(err) && hasEntries(path):
		if _, err := img.SalvageDir(d.path); err != nil {
			return failure(KindRemove, d, "salvage", "", err)
		}
		return nil
	default:
		return failure(KindRemove, d, "rmdir", "", err)
	}
}

func (d *DirectoryAction) GenerateIndices() []IndexTuple {
	return d.pathIndices("directory")
}
