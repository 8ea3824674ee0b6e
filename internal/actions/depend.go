package actions

import (
	"fmt"
	"slices"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// DependTypes lists the accepted values of a depend action's type attribute.
var DependTypes = []string{"require", "optional", "incorporate", "exclude", "conditional", "group"}

// DependAction records a dependency on another package. It places nothing
// in the image; its only effects are validation and indexing.
type DependAction struct {
	attrs Attrs
	fmri  string
}

// NewDepend builds a depend action keyed by fmri.
func NewDepend(attrs Attrs) (*DependAction, error) {
	fmri, err := requireKey("depend", attrs, "fmri")
	if err != nil {
		return nil, err
	}
	return &DependAction{attrs: attrs, fmri: fmri}, nil
}

func (d *DependAction) Name() string                  { return "depend" }
func (d *DependAction) Attrs() Attrs                  { return d.attrs.Clone() }
func (d *DependAction) Key() string                   { return d.fmri }
func (d *DependAction) Namespace() string             { return "depend" }
func (d *DependAction) GloballyUnique() bool          { return false }
func (d *DependAction) DirectoryReferences() []string { return nil }
func (d *DependAction) Type() string                  { return d.attrs.Get("type") }

func (d *DependAction) Compare(other Action) int { return compareKeys(d, other) }

func (d *DependAction) Describe() string {
	return fmt.Sprintf("depend    %s (%s)", d.fmri, d.Type())
}

func (d *DependAction) Validate(fmri string) error {
	var reason string
	switch t := d.Type(); {
	case t == "":
		reason = "missing type"
	case !slices.Contains(DependTypes, t):
		reason = "unknown dependency type " + t
	case t == "conditional" && d.attrs.Get("predicate") == "":
		reason = "conditional dependency requires a predicate"
	default:
		return nil
	}
	e := failure(KindValidation, d, "validate", reason, nil)
	e.FMRI = fmri
	return e
}

func (d *DependAction) Install(Plan, Action) error       { return nil }
func (d *DependAction) Remove(Plan) error                { return nil }
func (d *DependAction) Verify(*image.Image) VerifyResult { return VerifyResult{} }

func (d *DependAction) GenerateIndices() []IndexTuple {
	return []IndexTuple{{Domain: "depend", Field: d.Type(), Token: d.fmri}}
}
