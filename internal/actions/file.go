package actions

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// FileAction delivers a regular file whose content is staged in the image's
// content store under hash.
//
//	file sha256:9f86d0... mode=0644 owner=root group=bin path=/etc/motd
//
// preserve=true keeps the content of a target that already exists.
// encrypted=true marks staged content as age ciphertext, decrypted on write
// with the image key.
type FileAction struct {
	fsObject
}

// NewFile builds a file action.
func NewFile(attrs Attrs) (*FileAction, error) {
	o, err := newFSObject("file", attrs)
	if err != nil {
		return nil, err
	}
	return &FileAction{fsObject: o}, nil
}

func (f *FileAction) Hash() string    { return f.attrs.Get("hash") }
func (f *FileAction) Preserve() bool  { return f.attrs.Get("preserve") == "true" }
func (f *FileAction) Encrypted() bool { return f.attrs.Get("encrypted") == "true" }

func (f *FileAction) Compare(other Action) int { return f.compare(other) }

func (f *FileAction) Describe() string {
	s := fmt.Sprintf("file      /%s (%s %s:%s)", f.path, f.Mode(), f.Owner(), f.Group())
	if f.Encrypted() {
		s += " [encrypted]"
	}
	return s
}

func (f *FileAction) Validate(fmri string) error {
	err := f.validateCommon(f, fmri)
	hash := f.Hash()
	var reason string
	if hash == "" {
		reason = "missing hash"
	} else if _, herr := contentstore.Encoded(hash); herr != nil {
		reason = "invalid hash " + hash
	}
	if reason == "" {
		return err
	}
	var ae *Error
	if errors.As(err, &ae) {
		ae.Reason += ", " + reason
		return ae
	}
	e := failure(KindValidation, f, "validate", reason, nil)
	e.FMRI = fmri
	return e
}

// Install writes the staged content to path atomically and applies mode and
// ownership. Content is left alone when it cannot have changed: an update
// with the same hash, or a preserved file that already exists.
func (f *FileAction) Install(p Plan, orig Action) error {
	img := p.Image()
	fmri := p.DestinationFMRI()

	if err := f.Validate(fmri); err != nil {
		return err
	}
	mode, err := installMode(f, fmri)
	if err != nil {
		return err
	}
	uid, gid, err := resolveOwner(f, img, fmri)
	if err != nil {
		return err
	}
	if !img.Admin {
		mode |= 0o200
	}

	path := img.Path(f.path)
	if err := mkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure(KindInstall, f, "mkdir", "", err)
	}

	fi, err := os.Lstat(path)
	exists := err == nil && fi.Mode().IsRegular()
	write := true
	switch {
	case exists && f.Preserve():
		write = false
	case exists && orig != nil && orig.Attrs().Get("hash") == f.Hash():
		write = false
	}

	if write {
		if err := f.writeContent(img, path, mode); err != nil {
			return err
		}
	} else if fi.Mode()&modeBits != mode {
		if err := chmod(path, mode); err != nil {
			return failure(KindInstall, f, "chmod", "", err)
		}
	}

	if write || orig == nil || ownerChanged(orig, f) {
		return setOwner(f, img, path, uid, gid, false)
	}
	return nil
}

func ownerChanged(orig, dest Action) bool {
	o, d := orig.Attrs(), dest.Attrs()
	return o.Get("owner") != d.Get("owner") || o.Get("group") != d.Get("group")
}

func (f *FileAction) writeContent(img *image.Image, path string, mode os.FileMode) error {
	if img.Store == nil {
		return failure(KindInstall, f, "open content", "image has no content store", nil)
	}
	staged, err := img.Store.Open(f.Hash())
	if err != nil {
		return failure(KindInstall, f, "open content", "", err)
	}
	defer staged.Close()

	var src io.Reader = staged
	var verifier digest.Verifier
	if d, err := digest.Parse(f.Hash()); err == nil {
		verifier = d.Verifier()
		src = io.TeeReader(staged, verifier)
	}
	plain := src
	if f.Encrypted() {
		if !img.AgeKey.Configured() {
			return failure(KindInstall, f, "decrypt", "encrypted content requires an age key", nil)
		}
		plain, err = img.AgeKey.Decrypt(src)
		if err != nil {
			return failure(KindInstall, f, "decrypt", "", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return failure(KindInstall, f, "create", "", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, plain); err != nil {
		_ = tmp.Close()
		return failure(KindInstall, f, "write", "", err)
	}
	if verifier != nil {
		// Drain what the decrypter left unread so the whole blob is hashed.
		if _, err := io.Copy(io.Discard, src); err != nil {
			_ = tmp.Close()
			return failure(KindInstall, f, "read content", "", err)
		}
		if !verifier.Verified() {
			_ = tmp.Close()
			return failure(KindInstall, f, "verify content", "staged content does not match "+f.Hash(), nil)
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return failure(KindInstall, f, "sync", "", err)
	}
	if err := tmp.Close(); err != nil {
		return failure(KindInstall, f, "write", "", err)
	}
	if err := chmod(tmpName, mode); err != nil {
		return failure(KindInstall, f, "chmod", "", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return failure(KindInstall, f, "rename", "", err)
	}
	return nil
}

func (f *FileAction) Verify(img *image.Image) VerifyResult {
	fi, res := verifyFSObject(img, &f.fsObject, 0)
	if fi == nil || f.Encrypted() {
		return res
	}
	d, err := digest.Parse(f.Hash())
	if err != nil {
		return res
	}
	fh, err := os.Open(img.Path(f.path))
	if err != nil {
		res.errorf("unexpected error: %v", err)
		return res
	}
	defer fh.Close()
	got, err := d.Algorithm().FromReader(fh)
	if err != nil {
		res.errorf("unexpected error: %v", err)
		return res
	}
	if got != d {
		if f.Preserve() {
			res.Info = append(res.Info, "content differs from delivered version (preserved)")
		} else {
			res.errorf("hash: %s should be %s", got, d)
		}
	}
	return res
}

func (f *FileAction) Remove(p Plan) error {
	return unlink(f, p.Image().Path(f.path))
}

func (f *FileAction) GenerateIndices() []IndexTuple {
	tuples := f.pathIndices("file")
	if h := f.Hash(); h != "" {
		tuples = append(tuples, IndexTuple{Domain: "file", Field: "content", Token: strings.TrimSpace(h)})
	}
	return tuples
}
