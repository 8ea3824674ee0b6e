package actions

import (
	"fmt"
	"strings"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// SetAction attaches a named, possibly multi-valued attribute to a package.
//
//	set name=info.classification value="System/Core" value=Development
type SetAction struct {
	attrs Attrs
	name  string
}

// NewSet builds a set action keyed by name.
func NewSet(attrs Attrs) (*SetAction, error) {
	name, err := requireKey("set", attrs, "name")
	if err != nil {
		return nil, err
	}
	return &SetAction{attrs: attrs, name: name}, nil
}

func (s *SetAction) Name() string                  { return "set" }
func (s *SetAction) Attrs() Attrs                  { return s.attrs.Clone() }
func (s *SetAction) Key() string                   { return s.name }
func (s *SetAction) Namespace() string             { return "set" }
func (s *SetAction) GloballyUnique() bool          { return false }
func (s *SetAction) DirectoryReferences() []string { return nil }
func (s *SetAction) Values() []string              { return s.attrs.GetAll("value") }

func (s *SetAction) Compare(other Action) int { return compareKeys(s, other) }

func (s *SetAction) Describe() string {
	return fmt.Sprintf("set       %s = %s", s.name, strings.Join(s.Values(), ", "))
}

func (s *SetAction) Validate(fmri string) error {
	if len(s.Values()) > 0 {
		return nil
	}
	e := failure(KindValidation, s, "validate", "missing value", nil)
	e.FMRI = fmri
	return e
}

func (s *SetAction) Install(Plan, Action) error       { return nil }
func (s *SetAction) Remove(Plan) error                { return nil }
func (s *SetAction) Verify(*image.Image) VerifyResult { return VerifyResult{} }

// GenerateIndices emits one tuple per whitespace-separated token of every
// value.
func (s *SetAction) GenerateIndices() []IndexTuple {
	var tuples []IndexTuple
	for _, v := range s.Values() {
		for _, tok := range strings.Fields(v) {
			tuples = append(tuples, IndexTuple{Domain: "set", Field: s.name, Token: tok})
		}
	}
	return tuples
}
