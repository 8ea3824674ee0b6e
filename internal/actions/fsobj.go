package actions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// fsObject carries the attributes common to every action that places an
// object at a path in the image.
type fsObject struct {
	name  string
	attrs Attrs
	path  string // normalized, no leading separator
}

func newFSObject(name string, attrs Attrs) (fsObject, error) {
	raw, err := requireKey(name, attrs, "path")
	if err != nil {
		return fsObject{}, err
	}
	p, err := NormalizePath(raw)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			ae.Action = name
		}
		return fsObject{}, err
	}
	attrs.Set("path", p)
	return fsObject{name: name, attrs: attrs, path: p}, nil
}

func (o *fsObject) Name() string         { return o.name }
func (o *fsObject) Attrs() Attrs         { return o.attrs.Clone() }
func (o *fsObject) Key() string          { return o.path }
func (o *fsObject) Path() string         { return o.path }
func (o *fsObject) Namespace() string    { return PathNamespace }
func (o *fsObject) GloballyUnique() bool { return true }
func (o *fsObject) Mode() string         { return o.attrs.Get("mode") }
func (o *fsObject) Owner() string        { return o.attrs.Get("owner") }
func (o *fsObject) Group() string        { return o.attrs.Get("group") }

func (o *fsObject) DirectoryReferences() []string {
	return parentRefs(o.path)
}

func (o *fsObject) compare(other Action) int {
	if c := strings.Compare(o.path, other.Key()); c != 0 {
		return c
	}
	return strings.Compare(o.name, other.Name())
}

func (o *fsObject) pathIndices(domain string) []IndexTuple {
	return []IndexTuple{
		{Domain: domain, Field: "basename", Token: filepath.Base(o.path)},
		{Domain: domain, Field: "path", Token: "/" + o.path},
	}
}

// validateCommon checks the attributes every mode-bearing filesystem object
// needs at install time. Principals are checked for shape only; whether a
// name exists is a property of the target image, resolved at install.
func (o *fsObject) validateCommon(self Action, fmri string) error {
	var problems []string
	mode := o.Mode()
	switch {
	case mode == "":
		problems = append(problems, "missing mode")
	default:
		if _, err := parseMode(mode); err != nil {
			problems = append(problems, "invalid mode "+mode)
		}
	}
	for _, attr := range []string{"owner", "group"} {
		v := o.attrs.Get(attr)
		switch {
		case v == "":
			problems = append(problems, "missing "+attr)
		case strings.ContainsAny(v, ": \t/"):
			problems = append(problems, "invalid "+attr+" "+v)
		}
	}
	if len(problems) == 0 {
		return nil
	}
	e := failure(KindValidation, self, "validate", strings.Join(problems, ", "), nil)
	e.FMRI = fmri
	return e
}

// installMode parses a's mode, falling back to Validate for a descriptive
// error when it does not parse.
func installMode(a Action, fmri string) (fs.FileMode, error) {
	raw := a.Attrs().Get("mode")
	mode, err := parseMode(raw)
	if err == nil {
		return mode, nil
	}
	if verr := a.Validate(fmri); verr != nil {
		return 0, verr
	}
	e := failure(KindValidation, a, "parse mode", "invalid mode "+raw, err)
	e.FMRI = fmri
	return 0, e
}

// resolveOwner maps a's owner and group through the image policy.
func resolveOwner(a Action, img *image.Image, fmri string) (uid, gid int, err error) {
	attrs := a.Attrs()
	uid, gid, err = img.ResolveOwner(fmri, attrs.Get("owner"), attrs.Get("group"))
	if err != nil {
		e := failure(KindValidation, a, "resolve owner", "", err)
		e.FMRI = fmri
		return 0, 0, e
	}
	return uid, gid, nil
}

// setOwner applies ownership, tolerating environments that cannot.
func setOwner(a Action, img *image.Image, path string, uid, gid int, link bool) error {
	fn := chown
	if link {
		fn = lchown
	}
	err := fn(path, uid, gid)
	if err == nil {
		return nil
	}
	if chownTolerated(err) {
		img.Log.Debug().Str("path", path).Err(err).Msg("ownership left unchanged")
		return nil
	}
	return failure(KindInstall, a, "chown", "", err)
}

// verifyFSObject checks type, mode and ownership of the object at a's path.
// wantType is the fs.FileMode type bits expected (0 for a regular file).
func verifyFSObject(img *image.Image, o *fsObject, wantType fs.FileMode) (fs.FileInfo, VerifyResult) {
	var res VerifyResult
	path := img.Path(o.path)
	fi, err := os.Lstat(path)
	if notExist(err) {
		res.errorf("missing: %s does not exist", "/"+o.path)
		return nil, res
	}
	if err != nil {
		res.errorf("unexpected error: %v", err)
		return nil, res
	}
	if got := fi.Mode().Type(); got != wantType {
		res.errorf("file type: %s should be %s", typeName(got), typeName(wantType))
		return nil, res
	}

	if raw := o.Mode(); raw != "" {
		want, err := parseMode(raw)
		if err != nil {
			res.errorf("invalid mode attribute %q", raw)
		} else {
			got := fi.Mode() & modeBits
			ok := got == want || (!img.Admin && got == want|0o200)
			if !ok {
				res.errorf("mode: %s should be %s", formatMode(got), formatMode(want))
			}
		}
	}

	if o.Owner() != "" && o.Group() != "" {
		uid, gid, err := img.ResolveOwner("", o.Owner(), o.Group())
		if err != nil {
			res.errorf("%v", err)
			return fi, res
		}
		gotUID, gotGID, err := statOwner(path)
		switch {
		case errors.Is(err, errors.ErrUnsupported):
		case err != nil:
			res.errorf("unexpected error: %v", err)
		default:
			report := res.errorf
			if !img.Admin {
				report = res.warnf
			}
			if gotUID != uid {
				report("owner: %d should be %d (%s)", gotUID, uid, o.Owner())
			}
			if gotGID != gid {
				report("group: %d should be %d (%s)", gotGID, gid, o.Group())
			}
		}
	}
	return fi, res
}

func typeName(t fs.FileMode) string {
	switch {
	case t&fs.ModeDir != 0:
		return "directory"
	case t&fs.ModeSymlink != 0:
		return "symbolic link"
	case t == 0:
		return "regular file"
	default:
		return "special file"
	}
}
