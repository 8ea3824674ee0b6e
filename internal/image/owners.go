package image

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrUnknownPrincipal is returned when an owner or group name cannot be
// mapped to a numeric id.
var ErrUnknownPrincipal = errors.New("unknown principal")

// OwnerPolicy holds explicit name-to-id overrides consulted before the
// image's own account databases.
type OwnerPolicy struct {
	Users  map[string]int `yaml:"users,omitempty"`
	Groups map[string]int `yaml:"groups,omitempty"`
}

// principals caches the image's etc/passwd and etc/group.
type principals struct {
	once   sync.Once
	users  map[string]int
	groups map[string]int
	err    error
}

// ResolveOwner maps owner and group names to numeric ids for an object
// delivered by the package fmri.
//
// Resolution order: numeric literal, policy override, the image's own
// etc/passwd and etc/group, and finally the host account database when the
// image is the live root.
func (img *Image) ResolveOwner(fmri, owner, group string) (uid, gid int, err error) {
	if img.principals == nil {
		img.principals = &principals{}
	}
	p := img.principals
	p.once.Do(func() {
		p.users, p.err = readIDFile(filepath.Join(img.Root, "etc", "passwd"), 2)
		if p.err == nil {
			p.groups, p.err = readIDFile(filepath.Join(img.Root, "etc", "group"), 2)
		}
	})
	if p.err != nil {
		return 0, 0, p.err
	}

	var users, groups map[string]int
	if img.Owners != nil {
		users, groups = img.Owners.Users, img.Owners.Groups
	}
	uid, err = img.lookup(owner, users, p.users, hostUser)
	if err != nil {
		return 0, 0, fmt.Errorf("owner %q of %s: %w", owner, describe(fmri), err)
	}
	gid, err = img.lookup(group, groups, p.groups, hostGroup)
	if err != nil {
		return 0, 0, fmt.Errorf("group %q of %s: %w", group, describe(fmri), err)
	}
	return uid, gid, nil
}

func (img *Image) lookup(name string, override, local map[string]int, host func(string) (int, error)) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("empty name: %w", ErrUnknownPrincipal)
	}
	if id, err := strconv.Atoi(name); err == nil && id >= 0 {
		return id, nil
	}
	if id, ok := override[name]; ok {
		return id, nil
	}
	if id, ok := local[name]; ok {
		return id, nil
	}
	if img.Root == string(filepath.Separator) {
		if id, err := host(name); err == nil {
			return id, nil
		}
	}
	return 0, ErrUnknownPrincipal
}

func describe(fmri string) string {
	if fmri == "" {
		return "unnamed package"
	}
	return fmri
}

func hostUser(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func hostGroup(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// readIDFile parses a colon-separated account file, returning name -> the
// numeric id found in field idField. A missing file yields an empty map.
func readIDFile(path string, idField int) (map[string]int, error) {
	ids := make(map[string]int)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) <= idField {
			continue
		}
		id, err := strconv.Atoi(fields[idField])
		if err != nil {
			continue
		}
		if _, seen := ids[fields[0]]; !seen {
			ids[fields[0]] = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ids, nil
}
