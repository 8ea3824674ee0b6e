// Package image describes the target of a delivery: a root filesystem plus
// the policy that governs how objects are written into it.
package image

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/atomikpanda/pkgdeliver/internal/ageutil"
	"github.com/atomikpanda/pkgdeliver/internal/contentstore"
	"github.com/atomikpanda/pkgdeliver/internal/salvage"
)

// Image is the root filesystem an engine delivers into. It is owned by the
// caller and shared read-only by every action of a plan.
type Image struct {
	Root  string
	Admin bool // the process may set arbitrary ownership

	Store   *contentstore.Store
	Salvage *salvage.Area
	Owners  *OwnerPolicy
	AgeKey  *ageutil.Key
	Log     zerolog.Logger

	// OnSalvage, when set, is called after each successful salvage.
	OnSalvage func(salvage.Record)

	principals *principals
}

// New returns an Image for root with the default layout under var/pkg.
func New(root string, admin bool) *Image {
	root = filepath.Clean(root)
	return &Image{
		Root:    root,
		Admin:   admin,
		Store:   contentstore.New(filepath.Join(root, "var", "pkg", "download")),
		Salvage: salvage.New(filepath.Join(root, "var", "pkg", "lost+found")),
		Owners:  &OwnerPolicy{},
		Log:     zerolog.Nop(),
	}
}

// Path returns the absolute, normalized location of the image-relative rel.
// rel is resolved as if the image root were /, so ".." never climbs above it.
func (img *Image) Path(rel string) string {
	return filepath.Join(img.Root, filepath.Clean(string(filepath.Separator)+rel))
}

// SalvageDir moves the image-relative directory rel into the salvage area.
func (img *Image) SalvageDir(rel string) (salvage.Record, error) {
	if img.Salvage == nil {
		return salvage.Record{}, fmt.Errorf("image %s has no salvage area", img.Root)
	}
	rec, err := img.Salvage.Salvage(img.Root, rel)
	if err != nil {
		return rec, err
	}
	img.Log.Warn().
		Str("path", rel).
		Str("destination", rec.Destination).
		Msg("directory not empty, salvaged")
	if img.OnSalvage != nil {
		img.OnSalvage(rec)
	}
	return rec, nil
}
