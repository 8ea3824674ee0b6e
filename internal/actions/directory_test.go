package actions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newDir(t *testing.T, path, mode string) *DirectoryAction {
	t.Helper()
	owner, group := self()
	d, err := NewDirectory(A("path", path, "mode", mode, "owner", owner, "group", group))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func modeOf(t *testing.T, path string) fs.FileMode {
	t.Helper()
	fi, err := os.Lstat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi.Mode() & modeBits
}

func TestDirectoryInstallFresh(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "/usr/lib/amd64", "0750")
	if err := d.Install(p, nil); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	target := p.img.Path("usr/lib/amd64")
	if !isDir(target) {
		t.Fatalf("%s is not a directory", target)
	}
	if got := modeOf(t, target); got != 0o750 {
		t.Errorf("mode = %s, want 0750", formatMode(got))
	}
	if !isDir(filepath.Dir(target)) {
		t.Error("intermediate directory not created")
	}
}

func TestDirectoryInstallForcesOwnerWrite(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "ro", "0555")
	if err := d.Install(p, nil); err != nil {
		t.Fatal(err)
	}
	if got := modeOf(t, p.img.Path("ro")); got != 0o755 {
		t.Errorf("mode = %s, want 0755", formatMode(got))
	}
	if got := d.Mode(); got != "0555" {
		t.Errorf("stored mode = %q, want 0555", got)
	}
	if res := d.Verify(p.img); !res.OK() {
		t.Errorf("Verify() errors = %v", res.Errors)
	}
}

func TestDirectoryInstallIdempotent(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "opt/tool", "0711")
	for i := 0; i < 2; i++ {
		if err := d.Install(p, nil); err != nil {
			t.Fatalf("Install() #%d error: %v", i+1, err)
		}
	}
	if got := modeOf(t, p.img.Path("opt/tool")); got != 0o711 {
		t.Errorf("mode = %s, want 0711", formatMode(got))
	}
	if res := d.Verify(p.img); !res.OK() {
		t.Errorf("Verify() errors = %v", res.Errors)
	}
}

func TestDirectoryInstallUpdateChmod(t *testing.T) {
	p := newPlan(t)
	orig := newDir(t, "srv", "0755")
	if err := orig.Install(p, nil); err != nil {
		t.Fatal(err)
	}
	dest := newDir(t, "srv", "0700")
	if err := dest.Install(p, orig); err != nil {
		t.Fatalf("Install(update) error: %v", err)
	}
	if got := modeOf(t, p.img.Path("srv")); got != 0o700 {
		t.Errorf("mode = %s, want 0700", formatMode(got))
	}
}

func TestDirectoryInstallUpdateMissingCreates(t *testing.T) {
	p := newPlan(t)
	orig := newDir(t, "gone", "0755")
	dest := newDir(t, "gone", "0755")
	if err := dest.Install(p, orig); err != nil {
		t.Fatal(err)
	}
	if !isDir(p.img.Path("gone")) {
		t.Error("update did not recreate missing directory")
	}
}

func TestDirectoryInstallExistingTarget(t *testing.T) {
	p := newPlan(t)
	os.MkdirAll(p.img.Path("var/tmp"), 0o777)
	if err := newDir(t, "var/tmp", "0755").Install(p, nil); err != nil {
		t.Errorf("Install() over existing directory error: %v", err)
	}
}

func TestDirectoryInstallBadMode(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "x", "rwxr-xr-x")
	err := d.Install(p, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if _, serr := os.Stat(p.img.Path("x")); !notExist(serr) {
		t.Error("directory created despite invalid mode")
	}
}

func TestDirectoryInstallUnknownOwner(t *testing.T) {
	p := newPlan(t)
	d, _ := NewDirectory(A("path", "x", "mode", "0755", "owner", "nosuchuser", "group", "nosuchgroup"))
	if err := d.Install(p, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestDirectoryValidate(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attrs
		ok    bool
	}{
		{"valid", A("path", "a", "mode", "0755", "owner", "root", "group", "bin"), true},
		{"setgid", A("path", "a", "mode", "2775", "owner", "root", "group", "bin"), true},
		{"not octal", A("path", "a", "mode", "0889", "owner", "root", "group", "bin"), false},
		{"too large", A("path", "a", "mode", "17777", "owner", "root", "group", "bin"), false},
		{"missing mode", A("path", "a", "owner", "root", "group", "bin"), false},
		{"missing owner", A("path", "a", "mode", "0755", "group", "bin"), false},
		{"bad group", A("path", "a", "mode", "0755", "owner", "root", "group", "b:in"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDirectory(tt.attrs)
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

func TestDirectoryVerify(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "etc/conf.d", "0755")

	res := d.Verify(p.img)
	if res.OK() {
		t.Error("Verify() of missing directory reported no errors")
	}

	os.MkdirAll(p.img.Path("etc"), 0o755)
	os.WriteFile(p.img.Path("etc/conf.d"), nil, 0o644)
	if res := d.Verify(p.img); res.OK() {
		t.Error("Verify() of regular file reported no errors")
	}

	os.Remove(p.img.Path("etc/conf.d"))
	if err := d.Install(p, nil); err != nil {
		t.Fatal(err)
	}
	if res := d.Verify(p.img); !res.OK() {
		t.Errorf("Verify() errors = %v", res.Errors)
	}
	os.Chmod(p.img.Path("etc/conf.d"), 0o700)
	if res := d.Verify(p.img); res.OK() {
		t.Error("Verify() missed a mode mismatch")
	}
}

func TestDirectoryRemove(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "empty", "0755")
	if err := d.Install(p, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove(p); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(p.img.Path("empty")); !notExist(err) {
		t.Error("directory still present")
	}
	if err := d.Remove(p); err != nil {
		t.Errorf("Remove() of absent directory error: %v", err)
	}
}

func TestDirectoryRemoveSalvagesContent(t *testing.T) {
	p := newPlan(t)
	d := newDir(t, "home/data", "0755")
	if err := d.Install(p, nil); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(p.img.Path("home/data/notes.txt"), []byte("keep me"), 0o644)

	if err := d.Remove(p); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(p.img.Path("home/data")); !notExist(err) {
		t.Error("directory still at original path")
	}
	recs, err := p.img.Salvage.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("Records() = %v, want 1 record", recs)
	}
	data, err := os.ReadFile(filepath.Join(recs[0].Destination, "notes.txt"))
	if err != nil || string(data) != "keep me" {
		t.Errorf("salvaged content = %q, %v", data, err)
	}
}

func TestDirectoryIndices(t *testing.T) {
	d := newDir(t, "/usr/share/doc", "0755")
	got := d.GenerateIndices()
	if len(got) != 2 {
		t.Fatalf("GenerateIndices() = %v, want 2 tuples", got)
	}
	want := []IndexTuple{
		{Domain: "directory", Field: "basename", Token: "doc"},
		{Domain: "directory", Field: "path", Token: "/usr/share/doc"},
	}
	for i := range want {
		if got[i].Domain != want[i].Domain || got[i].Field != want[i].Field || got[i].Token != want[i].Token || got[i].Annotation != nil {
			t.Errorf("tuple %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
