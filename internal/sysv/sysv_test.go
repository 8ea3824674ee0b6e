package sysv

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
)

func TestParsePkgmapLine(t *testing.T) {
	tests := []struct {
		line string
		want Entry
	}{
		{"1 f none bin/ls 0555 root bin 18132 47754 1196450158",
			Entry{Part: 1, Type: 'f', Class: "none", Pathname: "bin/ls", Mode: "0555", Owner: "root", Group: "bin",
				Size: "18132", Checksum: "47754", Modtime: "1196450158"}},
		{"d none usr 0755 root sys",
			Entry{Part: 1, Type: 'd', Class: "none", Pathname: "usr", Mode: "0755", Owner: "root", Group: "sys"}},
		{"2 s none usr/bin/vi=../xpg4/bin/vi",
			Entry{Part: 2, Type: 's', Class: "none", Pathname: "usr/bin/vi", Target: "../xpg4/bin/vi"}},
		{"1 c none dev/null 13 2 0666 root sys",
			Entry{Part: 1, Type: 'c', Class: "none", Pathname: "dev/null", Major: "13", Minor: "2", Mode: "0666", Owner: "root", Group: "sys"}},
		{"1 i pkginfo 540 44737 1196450200",
			Entry{Part: 1, Type: 'i', Pathname: "pkginfo", Size: "540", Checksum: "44737", Modtime: "1196450200"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParsePkgmapLine(tt.line)
			if err != nil {
				t.Fatalf("ParsePkgmapLine() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePkgmapLine() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParsePkgmapLineErrors(t *testing.T) {
	for _, line := range []string{
		"1 q none foo",
		"1 f none bin/ls 0555 root",
		"1 s none usr/bin/vi",
		"1",
	} {
		if _, err := ParsePkgmapLine(line); !errors.Is(err, ErrFormat) {
			t.Errorf("ParsePkgmapLine(%q) = %v, want ErrFormat", line, err)
		}
	}
}

func TestReadPkgmapSkipsHeader(t *testing.T) {
	in := ": 1 4264\n# comment\n\n1 d none opt 0755 root bin\n"
	got, err := ReadPkgmap(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Pathname != "opt" {
		t.Errorf("ReadPkgmap() = %+v", got)
	}
}

func TestReadPkginfo(t *testing.T) {
	in := "PKG=\"SUNWtest\"\nNAME=Test package\nVERSION=11.11,REV=2007.11.20\n#FASPACD= SUNWtest none\n# other\n"
	info, err := ReadPkginfo(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Params["PKG"]; got != "SUNWtest" {
		t.Errorf("PKG = %q, want SUNWtest", got)
	}
	if got := info.Params["NAME"]; got != "Test package" {
		t.Errorf("NAME = %q, want %q", got, "Test package")
	}
	if len(info.Faspac) != 2 || info.Faspac[0] != "SUNWtest" {
		t.Errorf("Faspac = %q", info.Faspac)
	}
}

func TestReadDepend(t *testing.T) {
	in := "P SUNWcar Core Architecture, (Root)\nI SUNWold\nR SUNWrev\n\tcontinuation\n"
	got, err := ReadDepend(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Pkg != "SUNWcar" || got[0].Desc != "Core Architecture, (Root)" {
		t.Errorf("ReadDepend() = %+v", got)
	}
}

func writePackage(t *testing.T, withDepend bool) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"pkginfo": "PKG=SUNWtest\nNAME=test tools\nVERSION=1.0\nBASEDIR=/opt\n",
		"pkgmap": strings.Join([]string{
			": 1 10",
			"1 d none test 0755 root bin",
			"1 f none test/tool 0555 ? ? 5 400 1196450158",
			"1 e none /etc/test.conf 0644 root sys 3 200 1196450158",
			"1 s none test/alias=tool",
			"1 l none test/hard=test/tool",
			"1 p none test/fifo 0600 root bin",
			"1 i pkginfo 40 300 1196450200",
		}, "\n") + "\n",
		"reloc/test/tool":    "hello",
		"root/etc/test.conf": "a=1",
	}
	if withDepend {
		files["install/depend"] = "P SUNWzlib zlib\nP SUNWcar core\n"
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestOpenWithoutDepend(t *testing.T) {
	p, err := Open(writePackage(t, false))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if len(p.Deps) != 0 {
		t.Errorf("Deps = %+v, want none", p.Deps)
	}
	if got := p.FMRI(); got != "pkg:/SUNWtest@1.0" {
		t.Errorf("FMRI() = %q, want pkg:/SUNWtest@1.0", got)
	}
}

func TestActions(t *testing.T) {
	p, err := Open(writePackage(t, true))
	if err != nil {
		t.Fatal(err)
	}
	store := contentstore.New(t.TempDir())
	acts, err := p.Actions(store)
	if err != nil {
		t.Fatalf("Actions() error: %v", err)
	}

	byKey := map[string]actions.Action{}
	var got []string
	for _, a := range acts {
		got = append(got, a.Name()+":"+a.Key())
		byKey[a.Name()+":"+a.Key()] = a
	}
	want := "set:pkg.summary dir:opt/test file:opt/test/tool file:etc/test.conf link:opt/test/alias " +
		"hardlink:opt/test/hard depend:pkg:/SUNWcar depend:pkg:/SUNWzlib"
	if strings.Join(got, " ") != want {
		t.Fatalf("Actions() = %q, want %q", strings.Join(got, " "), want)
	}

	tool := byKey["file:opt/test/tool"].Attrs()
	if tool.Get("owner") != "root" || tool.Get("group") != "bin" {
		t.Errorf("tool owner/group = %s/%s, want root/bin", tool.Get("owner"), tool.Get("group"))
	}
	if !store.Has(tool.Get("hash")) {
		t.Errorf("content for %s not staged", tool.Get("hash"))
	}
	if byKey["file:etc/test.conf"].Attrs().Get("preserve") != "true" {
		t.Error("editable file not preserved")
	}
	if got := byKey["hardlink:opt/test/hard"].Attrs().Get("target"); got != "/opt/test/tool" {
		t.Errorf("hardlink target = %q, want /opt/test/tool", got)
	}
	if got := byKey["depend:pkg:/SUNWzlib"].Attrs().Get("type"); got != "require" {
		t.Errorf("depend type = %q, want require", got)
	}
	if errs := actions.ValidateAll(p.FMRI(), acts); len(errs) > 0 {
		t.Errorf("ValidateAll() = %v", errs)
	}
}

func TestActionsNeedsStore(t *testing.T) {
	p, err := Open(writePackage(t, false))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Actions(nil); err == nil {
		t.Error("Actions(nil) succeeded for a package with files")
	}
}
