package salvage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedArea(dir string) *Area {
	a := New(dir)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestSalvageMovesDirectory(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "usr", "lib", "app")
	os.MkdirAll(target, 0o755)
	os.WriteFile(filepath.Join(target, "user.conf"), []byte("keep me"), 0o644)

	a := fixedArea(filepath.Join(root, "var", "pkg", "lost+found"))
	rec, err := a.Salvage(root, "usr/lib/app")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("original directory should be gone")
	}
	if !strings.HasSuffix(rec.Destination, "app-20260301T120000Z") {
		t.Errorf("Destination = %q", rec.Destination)
	}
	if rec.OriginalPath != "usr/lib/app" {
		t.Errorf("OriginalPath = %q", rec.OriginalPath)
	}
	data, err := os.ReadFile(filepath.Join(rec.Destination, "user.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keep me" {
		t.Errorf("salvaged content = %q", string(data))
	}
}

func TestSalvageSameSecondGetsDistinctNames(t *testing.T) {
	root := t.TempDir()
	a := fixedArea(filepath.Join(root, "lost+found"))

	var dests []string
	for i := 0; i < 2; i++ {
		d := filepath.Join(root, "opt")
		os.MkdirAll(d, 0o755)
		os.WriteFile(filepath.Join(d, "f"), []byte("x"), 0o644)
		rec, err := a.Salvage(root, "opt")
		if err != nil {
			t.Fatal(err)
		}
		dests = append(dests, rec.Destination)
	}
	if dests[0] == dests[1] {
		t.Errorf("both salvages landed at %q", dests[0])
	}
}

func TestSalvageMissingSource(t *testing.T) {
	root := t.TempDir()
	a := New(filepath.Join(root, "lost+found"))
	if _, err := a.Salvage(root, "nope"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestRecordsLedger(t *testing.T) {
	root := t.TempDir()
	a := fixedArea(filepath.Join(root, "lost+found"))

	recs, err := a.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty ledger, got %d", len(recs))
	}

	for _, name := range []string{"a", "b"} {
		os.MkdirAll(filepath.Join(root, name), 0o755)
		if _, err := a.Salvage(root, name); err != nil {
			t.Fatal(err)
		}
	}

	reopened := New(a.Dir)
	recs, err = reopened.Records()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].OriginalPath != "a" || recs[1].OriginalPath != "b" {
		t.Errorf("records = %+v", recs)
	}
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.MkdirAll(filepath.Join(src, "sub"), 0o755)
	os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("bbb"), 0o600)
	os.Symlink("sub/b.txt", filepath.Join(src, "link"))

	if err := copyTree(src, dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "bbb" {
		t.Errorf("sub/b.txt = %q", string(data))
	}
	if target, err := os.Readlink(filepath.Join(dst, "link")); err != nil || target != "sub/b.txt" {
		t.Errorf("link = %q, %v", target, err)
	}
}
