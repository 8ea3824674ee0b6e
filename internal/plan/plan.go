// Package plan reconciles an image against the actions of a package
// transition: it pairs origin and destination actions, orders the resulting
// steps and drives each action's lifecycle.
package plan

import (
	"github.com/google/uuid"

	"github.com/atomikpanda/pkgdeliver/internal/image"
)

// PackagePlan is one package transition against an image. Origin is empty
// for a fresh install; Destination is empty for a pure removal.
type PackagePlan struct {
	ID          string
	Origin      string
	Destination string

	image *image.Image
}

// New returns a plan moving img from the package origin to destination.
func New(img *image.Image, origin, destination string) *PackagePlan {
	return &PackagePlan{
		ID:          uuid.NewString(),
		Origin:      origin,
		Destination: destination,
		image:       img,
	}
}

func (p *PackagePlan) Image() *image.Image     { return p.image }
func (p *PackagePlan) OriginFMRI() string      { return p.Origin }
func (p *PackagePlan) DestinationFMRI() string { return p.Destination }

// fmri names the package the plan is about, for diagnostics.
func (p *PackagePlan) fmri() string {
	if p.Destination != "" {
		return p.Destination
	}
	return p.Origin
}
