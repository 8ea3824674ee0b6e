package actions

import (
	"errors"
	"testing"
)

func TestDependValidate(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attrs
		ok    bool
	}{
		{"require", A("fmri", "pkg:/libc@2.0", "type", "require"), true},
		{"conditional", A("fmri", "pkg:/a", "type", "conditional", "predicate", "pkg:/b"), true},
		{"conditional without predicate", A("fmri", "pkg:/a", "type", "conditional"), false},
		{"missing type", A("fmri", "pkg:/a"), false},
		{"unknown type", A("fmri", "pkg:/a", "type", "recommends"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDepend(tt.attrs)
			if err != nil {
				t.Fatal(err)
			}
			err = d.Validate("pkg:/test@1.0")
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDependNoOps(t *testing.T) {
	p := newPlan(t)
	d := mustNew(t, "depend", "fmri", "pkg:/libc", "type", "require")
	if err := d.Install(p, nil); err != nil {
		t.Errorf("Install() = %v", err)
	}
	if err := d.Remove(p); err != nil {
		t.Errorf("Remove() = %v", err)
	}
	if res := d.Verify(p.img); !res.OK() {
		t.Errorf("Verify() = %v", res.Errors)
	}
	got := d.GenerateIndices()
	if len(got) != 1 || got[0] != (IndexTuple{Domain: "depend", Field: "require", Token: "pkg:/libc"}) {
		t.Errorf("GenerateIndices() = %+v", got)
	}
}

func TestSetIndices(t *testing.T) {
	s := mustNew(t, "set", "name", "pkg.description", "value", "fast  grep", "value", "regex")
	got := s.GenerateIndices()
	want := []string{"fast", "grep", "regex"}
	if len(got) != len(want) {
		t.Fatalf("GenerateIndices() = %+v, want %d tuples", got, len(want))
	}
	for i, tok := range want {
		if got[i].Token != tok || got[i].Field != "pkg.description" || got[i].Domain != "set" {
			t.Errorf("tuple %d = %+v, want token %q", i, got[i], tok)
		}
	}
}

func TestSetValidate(t *testing.T) {
	s, err := NewSet(A("name", "pkg.summary"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(""); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
