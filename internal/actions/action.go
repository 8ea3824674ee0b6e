// Package actions implements the typed units of package content and their
// install, verify and remove lifecycle against an image.
package actions

import (
	"cmp"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// PathNamespace is the uniqueness domain shared by every filesystem-object
// action: a path may be delivered by at most one of them per image.
const PathNamespace = "path"

// Action is a single unit of package content.
type Action interface {
	// Name returns the action type, e.g. "dir".
	Name() string
	// Attrs returns a copy of the action's attributes.
	Attrs() Attrs
	// Key returns the value of the key attribute. Stable for the action's
	// lifetime.
	Key() string
	// Namespace names the domain within which Key must be unique.
	Namespace() string
	// GloballyUnique reports whether two actions sharing Namespace and Key
	// may not coexist in one image.
	GloballyUnique() bool
	// Compare orders actions for deterministic application.
	Compare(other Action) int
	// DirectoryReferences returns the normalized image-relative directories
	// the action's object lives in.
	DirectoryReferences() []string
	// Describe returns a human-readable summary.
	Describe() string

	// Validate performs the checks deferred from construction. fmri names
	// the package that carries the action, for diagnostics.
	Validate(fmri string) error
	// Install delivers the action into the plan's image. orig is the action
	// being replaced, or nil on a fresh install.
	Install(p Plan, orig Action) error
	// Verify compares the delivered object with the action.
	Verify(img *image.Image) VerifyResult
	// Remove takes the action's object out of the plan's image.
	Remove(p Plan) error
	// GenerateIndices returns the search index tuples for the action.
	GenerateIndices() []IndexTuple
}

// Plan is the package transition an action is installed or removed under.
type Plan interface {
	Image() *image.Image
	OriginFMRI() string
	DestinationFMRI() string
}

// IndexTuple is one entry handed to the search indexer.
type IndexTuple struct {
	Domain     string
	Field      string
	Token      string
	Annotation *string
}

// VerifyResult holds verification findings. Errors is empty when the object
// is correctly installed.
type VerifyResult struct {
	Errors   []string
	Warnings []string
	Info     []string
}

// OK reports whether verification found no errors.
func (r VerifyResult) OK() bool {
	return len(r.Errors) == 0
}

func (r *VerifyResult) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *VerifyResult) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type constructor func(Attrs) (Action, error)

var registry = map[string]constructor{
	"dir":      func(a Attrs) (Action, error) { return NewDirectory(a) },
	"file":     func(a Attrs) (Action, error) { return NewFile(a) },
	"link":     func(a Attrs) (Action, error) { return NewLink(a) },
	"hardlink": func(a Attrs) (Action, error) { return NewHardLink(a) },
	"depend":   func(a Attrs) (Action, error) { return NewDepend(a) },
	"set":      func(a Attrs) (Action, error) { return NewSet(a) },
}

// payloadAttrs names the attribute a positional manifest payload fills.
var payloadAttrs = map[string]string{
	"file": "hash",
}

// New constructs an action of type name from attrs.
func New(name string, attrs Attrs) (Action, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, &Error{Kind: KindInvalidAction, Action: name, Reason: "unknown action type"}
	}
	return ctor(attrs.Clone())
}

// PayloadAttr returns the attribute that a positional payload maps to for
// action type name, or "" if the type takes none.
func PayloadAttr(name string) string {
	return payloadAttrs[name]
}

// Types returns the registered action type names, sorted.
func Types() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String renders a in manifest syntax.
func String(a Action) string {
	return a.Name() + " " + a.Attrs().String()
}

// ValidateAll runs Validate on every action and returns the failures.
func ValidateAll(fmri string, acts []Action) []error {
	var errs []error
	for _, a := range acts {
		if err := a.Validate(fmri); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func compareKeys(a, b Action) int {
	if c := cmp.Compare(a.Key(), b.Key()); c != 0 {
		return c
	}
	return cmp.Compare(a.Name(), b.Name())
}

// parentRefs returns the containing directory of an image-relative path.
func parentRefs(path string) []string {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return []string{dir}
}

func requireKey(name string, attrs Attrs, key string) (string, error) {
	v := attrs.Get(key)
	if v == "" {
		return "", &Error{Kind: KindInvalidAction, Action: name, Reason: "missing " + key + " attribute"}
	}
	return v, nil
}
