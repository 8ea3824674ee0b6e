package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atomikpanda/pkgdeliver/internal/manifest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func owner() string {
	return fmt.Sprintf("owner=%d group=%d", os.Getuid(), os.Getgid())
}

func swapConfirm(t *testing.T, answer bool) *int {
	t.Helper()
	calls := 0
	prev := confirm
	confirm = func(string) (bool, error) {
		calls++
		return answer, nil
	}
	t.Cleanup(func() { confirm = prev })
	return &calls
}

func TestBuildRoot(t *testing.T) {
	root := buildRoot()
	if root.Use != "pkgdeliver" {
		t.Errorf("Use = %q", root.Use)
	}
	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, name := range []string{"apply", "verify", "validate", "index", "search", "store", "shard", "salvage", "import-sysv", "log"} {
		if !names[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestApplyVerifySearch(t *testing.T) {
	img := t.TempDir()
	work := t.TempDir()

	out, err := run(t, "-R", img, "store", "put", writeFile(t, filepath.Join(work, "payload"), "hello"))
	if err != nil {
		t.Fatalf("store put: %v\n%s", err, out)
	}
	hash := strings.TrimSpace(out)
	if !strings.HasPrefix(hash, "sha256:") {
		t.Fatalf("store put printed %q", out)
	}

	m := writeFile(t, filepath.Join(work, "example.p5m"), strings.Join([]string{
		"set name=pkg.fmri value=pkg:/example@1.0",
		"dir path=/bin mode=0755 " + owner(),
		"dir path=/bin/example_dir mode=0755 " + owner(),
		"file " + hash + " path=/bin/example_path mode=0644 " + owner(),
	}, "\n")+"\n")

	out, err = run(t, "-R", img, "apply", "--dest", m)
	if err != nil {
		t.Fatalf("apply: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 installed") {
		t.Errorf("apply output missing summary:\n%s", out)
	}
	data, err := os.ReadFile(filepath.Join(img, "bin", "example_path"))
	if err != nil || string(data) != "hello" {
		t.Errorf("example_path = %q, %v", data, err)
	}

	if out, err := run(t, "-R", img, "verify", m); err != nil {
		t.Errorf("verify: %v\n%s", err, out)
	}

	out, err = run(t, "-R", img, "search", "example_dir")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out, "pkg:/example@1.0") || !strings.Contains(out, "directory:basename") {
		t.Errorf("search output:\n%s", out)
	}

	out, err = run(t, "-R", img, "log")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if !strings.Contains(out, "bin/example_dir") {
		t.Errorf("log output missing step:\n%s", out)
	}

	os.Remove(filepath.Join(img, "bin", "example_path"))
	if _, err := run(t, "-R", img, "verify", m); err != errVerifyFailed {
		t.Errorf("verify after removal = %v, want errVerifyFailed", err)
	}
}

func TestApplyRemovalAsksFirst(t *testing.T) {
	img := t.TempDir()
	work := t.TempDir()
	v1 := writeFile(t, filepath.Join(work, "v1.p5m"),
		"set name=pkg.fmri value=pkg:/srv@1\ndir path=srv mode=0755 "+owner()+"\ndir path=srv/old mode=0755 "+owner()+"\n")
	v2 := writeFile(t, filepath.Join(work, "v2.p5m"),
		"set name=pkg.fmri value=pkg:/srv@2\ndir path=srv mode=0755 "+owner()+"\n")

	if out, err := run(t, "-R", img, "apply", "--dest", v1); err != nil {
		t.Fatalf("apply v1: %v\n%s", err, out)
	}

	calls := swapConfirm(t, false)
	if _, err := run(t, "-R", img, "apply", "--origin", v1, "--dest", v2); err == nil {
		t.Error("declined apply succeeded")
	}
	if *calls != 1 {
		t.Errorf("confirm called %d times, want 1", *calls)
	}
	if _, err := os.Stat(filepath.Join(img, "srv", "old")); err != nil {
		t.Errorf("srv/old removed after decline: %v", err)
	}

	if out, err := run(t, "-R", img, "apply", "--origin", v1, "--dest", v2, "--yes"); err != nil {
		t.Fatalf("apply --yes: %v\n%s", err, out)
	}
	if *calls != 1 {
		t.Errorf("confirm called with --yes")
	}
	if _, err := os.Stat(filepath.Join(img, "srv", "old")); !os.IsNotExist(err) {
		t.Errorf("srv/old still present: %v", err)
	}
}

func TestApplyDryRun(t *testing.T) {
	img := t.TempDir()
	m := writeFile(t, filepath.Join(t.TempDir(), "m.p5m"), "dir path=opt mode=0755 "+owner()+"\n")
	out, err := run(t, "-R", img, "apply", "--dest", m, "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 to install, 0 to update, 0 to remove") {
		t.Errorf("dry-run output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(img, "opt")); !os.IsNotExist(err) {
		t.Error("dry-run modified the image")
	}
}

func TestValidate(t *testing.T) {
	work := t.TempDir()
	good := writeFile(t, filepath.Join(work, "good.p5m"), "dir path=opt mode=0755 owner=root group=bin\n")
	bad := writeFile(t, filepath.Join(work, "bad.p5m"),
		"dir path=opt mode=0755 owner=root group=bin\nfile path=/opt mode=0644 owner=root group=bin hash=sha256:"+strings.Repeat("a", 64)+"\n")

	if out, err := run(t, "validate", good); err != nil {
		t.Errorf("validate good: %v\n%s", err, out)
	}
	out, err := run(t, "validate", good, bad)
	if err == nil {
		t.Fatal("validate bad succeeded")
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "bad.p5m") {
		t.Errorf("validate output:\n%s", out)
	}
}

func TestShard(t *testing.T) {
	hash := "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	out, err := run(t, "shard", hash)
	if err != nil {
		t.Fatal(err)
	}
	want := "e3/b0c442/e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if strings.TrimSpace(out) != want {
		t.Errorf("shard = %q, want %q", strings.TrimSpace(out), want)
	}
	if _, err := run(t, "shard", "abc"); err == nil {
		t.Error("shard of a short hash succeeded")
	}
}

func TestImportSysv(t *testing.T) {
	img := t.TempDir()
	pkg := t.TempDir()
	writeFile(t, filepath.Join(pkg, "pkginfo"), "PKG=SUNWdemo\nVERSION=2.0\nNAME=demo\n")
	writeFile(t, filepath.Join(pkg, "pkgmap"), ": 1 2\n1 d none opt 0755 root bin\n1 f none opt/demo 0555 root bin 4 300 0\n")
	writeFile(t, filepath.Join(pkg, "reloc", "opt", "demo"), "demo")
	outFile := filepath.Join(t.TempDir(), "demo.p5m")

	if out, err := run(t, "-R", img, "import-sysv", pkg, "-o", outFile); err != nil {
		t.Fatalf("import-sysv: %v\n%s", err, out)
	}
	acts, err := manifest.ParseFile(outFile)
	if err != nil {
		t.Fatalf("imported manifest does not parse: %v", err)
	}
	if got := manifest.FMRI(acts); got != "pkg:/SUNWdemo@2.0" {
		t.Errorf("FMRI = %q", got)
	}
	if len(acts) != 4 {
		t.Errorf("imported %d actions, want 4 (fmri, summary, dir, file)", len(acts))
	}
}

func TestLoadConfigNeedsRoot(t *testing.T) {
	if _, err := run(t, "salvage", "list"); err == nil || !strings.Contains(err.Error(), "no image root") {
		t.Errorf("err = %v, want missing root", err)
	}
}

func TestFmriOf(t *testing.T) {
	if got := fmriOf(nil, "/tmp/web-2.0.p5m"); got != "pkg:/web-2.0" {
		t.Errorf("fmriOf() = %q, want pkg:/web-2.0", got)
	}
}
