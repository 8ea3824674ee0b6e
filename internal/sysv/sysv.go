// Package sysv imports directory-format System V packages (pkginfo, pkgmap
// and install/depend) as delivery actions. Datastream packages are not
// supported.
package sysv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/atomikpanda/pkgdeliver/internal/actions"
	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
)

// ErrFormat is wrapped by every malformed-input error.
var ErrFormat = errors.New("invalid sysv package data")

// Entry is one line of a pkgmap.
type Entry struct {
	Part     int
	Type     byte // f e v b c d x p l s i
	Class    string
	Pathname string
	Target   string // l and s entries
	Mode     string
	Owner    string
	Group    string
	Major    string
	Minor    string
	Size     string
	Checksum string
	Modtime  string
}

// ParsePkgmapLine parses one pkgmap entry. A line without a leading part
// number belongs to part 1.
func ParsePkgmapLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	var e Entry
	if len(fields) == 0 {
		return e, fmt.Errorf("%w: empty pkgmap line", ErrFormat)
	}
	if n, err := strconv.Atoi(fields[0]); err == nil {
		e.Part = n
		fields = fields[1:]
	} else {
		e.Part = 1
	}
	if len(fields) < 2 || len(fields[0]) != 1 {
		return e, fmt.Errorf("%w: %q", ErrFormat, line)
	}
	e.Type = fields[0][0]
	args := fields[1:]

	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: type %c wants %d fields, got %d: %q", ErrFormat, e.Type, n, len(args), line)
		}
		return nil
	}

	switch e.Type {
	case 'i':
		if err := want(4); err != nil {
			return e, err
		}
		e.Pathname, e.Size, e.Checksum, e.Modtime = args[0], args[1], args[2], args[3]
	case 'f', 'e', 'v':
		if err := want(8); err != nil {
			return e, err
		}
		e.Class = args[0]
		e.Pathname, e.Mode, e.Owner, e.Group = args[1], args[2], args[3], args[4]
		e.Size, e.Checksum, e.Modtime = args[5], args[6], args[7]
	case 'b', 'c':
		if err := want(7); err != nil {
			return e, err
		}
		e.Class = args[0]
		e.Pathname, e.Major, e.Minor = args[1], args[2], args[3]
		e.Mode, e.Owner, e.Group = args[4], args[5], args[6]
	case 'd', 'x', 'p':
		if err := want(5); err != nil {
			return e, err
		}
		e.Class = args[0]
		e.Pathname, e.Mode, e.Owner, e.Group = args[1], args[2], args[3], args[4]
	case 'l', 's':
		if err := want(2); err != nil {
			return e, err
		}
		e.Class = args[0]
		p, t, ok := strings.Cut(args[1], "=")
		if !ok {
			return e, fmt.Errorf("%w: link without target: %q", ErrFormat, line)
		}
		e.Pathname, e.Target = p, t
	default:
		return e, fmt.Errorf("%w: invalid file type %q", ErrFormat, string(e.Type))
	}
	return e, nil
}

// ReadPkgmap parses a pkgmap, skipping comments and the ':' header line.
func ReadPkgmap(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || line[0] == '#' || line[0] == ':' {
			continue
		}
		e, err := ParsePkgmapLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// Info is a parsed pkginfo file.
type Info struct {
	Params map[string]string
	Faspac []string // from the #FASPACD= comment, when present
}

// ReadPkginfo parses KEY=value lines, stripping surrounding double quotes.
func ReadPkginfo(r io.Reader) (*Info, error) {
	info := &Info{Params: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '#' {
			if rest, ok := strings.CutPrefix(line, "#FASPACD="); ok {
				info.Faspac = strings.Fields(rest)
			}
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: pkginfo line %q", ErrFormat, line)
		}
		info.Params[key] = strings.Trim(val, `"`)
	}
	return info, scanner.Err()
}

// Dependency is a prerequisite ('P') line of install/depend.
type Dependency struct {
	Pkg  string
	Desc string
}

// ReadDepend returns the prerequisite entries of an install/depend file.
// Incompatible and reverse entries are ignored.
func ReadDepend(r io.Reader) ([]Dependency, error) {
	var deps []Dependency
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] != 'P' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: depend line %q", ErrFormat, line)
		}
		d := Dependency{Pkg: fields[1]}
		if len(fields) > 2 {
			d.Desc = strings.Join(fields[2:], " ")
		}
		deps = append(deps, d)
	}
	return deps, scanner.Err()
}

// Package is a directory-format System V package.
type Package struct {
	Dir  string
	Info *Info
	Map  []Entry
	Deps []Dependency
}

// Open reads the package in dir. A missing install/depend is not an error.
func Open(dir string) (*Package, error) {
	p := &Package{Dir: dir}
	var err error
	if p.Info, err = readWith(filepath.Join(dir, "pkginfo"), ReadPkginfo); err != nil {
		return nil, err
	}
	if p.Map, err = readWith(filepath.Join(dir, "pkgmap"), ReadPkgmap); err != nil {
		return nil, err
	}
	p.Deps, err = readWith(filepath.Join(dir, "install", "depend"), ReadDepend)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return p, nil
}

func readWith[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Name returns the PKG parameter.
func (p *Package) Name() string { return p.Info.Params["PKG"] }

// FMRI returns the package identifier derived from PKG and VERSION.
func (p *Package) FMRI() string {
	f := "pkg:/" + p.Name()
	if v := p.Info.Params["VERSION"]; v != "" {
		f += "@" + v
	}
	return f
}

func (p *Package) basedir() string {
	if b := p.Info.Params["BASEDIR"]; b != "" {
		return b
	}
	return "/"
}

// installPath maps a pkgmap pathname onto the image.
func (p *Package) installPath(name string) string {
	if path.IsAbs(name) {
		return path.Clean(name)
	}
	return path.Join(p.basedir(), name)
}

// contentPath locates the delivered bytes of a pkgmap pathname.
func (p *Package) contentPath(name string) string {
	if path.IsAbs(name) {
		return filepath.Join(p.Dir, "root", filepath.FromSlash(name))
	}
	return filepath.Join(p.Dir, "reloc", filepath.FromSlash(name))
}

// Actions converts the package into delivery actions. File content is staged
// into store and referenced by digest. Device, pipe and information entries
// have no action counterpart and are skipped.
func (p *Package) Actions(store *contentstore.Store) ([]actions.Action, error) {
	var acts []actions.Action
	add := func(name string, kv ...string) error {
		a, err := actions.New(name, actions.A(kv...))
		if err != nil {
			return err
		}
		acts = append(acts, a)
		return nil
	}

	if v := p.Info.Params["NAME"]; v != "" {
		if err := add("set", "name", "pkg.summary", "value", v); err != nil {
			return nil, err
		}
	}
	if v := p.Info.Params["DESC"]; v != "" {
		if err := add("set", "name", "pkg.description", "value", v); err != nil {
			return nil, err
		}
	}

	for _, e := range p.Map {
		dst := p.installPath(e.Pathname)
		var err error
		switch e.Type {
		case 'd', 'x':
			err = add("dir", "path", dst, "mode", orDefault(e.Mode, "0755"),
				"owner", orDefault(e.Owner, "root"), "group", orDefault(e.Group, "bin"))
		case 'f', 'e', 'v':
			if store == nil {
				return nil, fmt.Errorf("%s: file content requires a content store", e.Pathname)
			}
			d, serr := store.PutFile(p.contentPath(e.Pathname))
			if serr != nil {
				return nil, fmt.Errorf("stage %s: %w", e.Pathname, serr)
			}
			kv := []string{"path", dst, "hash", d.String(), "mode", orDefault(e.Mode, "0644"),
				"owner", orDefault(e.Owner, "root"), "group", orDefault(e.Group, "bin")}
			if e.Type != 'f' {
				// Editable and volatile files are expected to change locally.
				kv = append(kv, "preserve", "true")
			}
			err = add("file", kv...)
		case 's':
			err = add("link", "path", dst, "target", e.Target)
		case 'l':
			err = add("hardlink", "path", dst, "target", "/"+strings.TrimLeft(p.installPath(e.Target), "/"))
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Pathname, err)
		}
	}

	deps := make([]Dependency, len(p.Deps))
	copy(deps, p.Deps)
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].Pkg < deps[j].Pkg })
	for _, d := range deps {
		if err := add("depend", "fmri", "pkg:/"+d.Pkg, "type", "require"); err != nil {
			return nil, err
		}
	}
	return acts, nil
}

// orDefault substitutes def for the "?" placeholder pkgmap uses for
// unspecified attributes.
func orDefault(v, def string) string {
	if v == "" || v == "?" {
		return def
	}
	return v
}
