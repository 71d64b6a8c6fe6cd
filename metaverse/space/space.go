package space

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/wricardo/metaverse-presence/metaverse/grid"
)

var (
	ErrSpaceNotFound = errors.New("space not found")
	ErrInvalidSpace  = errors.New("invalid space")
)

// MaxDimension caps width and height.
const MaxDimension = 10000

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Space is the persisted definition of a room.
type Space struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Bounds returns the space dimensions.
func (s Space) Bounds() grid.Bounds {
	return grid.Bounds{Width: s.Width, Height: s.Height}
}

// Validate checks the id and dimensions.
func (s Space) Validate() error {
	if !ValidID(s.ID) {
		return fmt.Errorf("%w: bad id %q", ErrInvalidSpace, s.ID)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidSpace, s.Width, s.Height)
	}
	if s.Width > MaxDimension || s.Height > MaxDimension {
		return fmt.Errorf("%w: dimensions exceed %d", ErrInvalidSpace, MaxDimension)
	}
	return nil
}

// ValidID reports whether id is usable as a space id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Lookup resolves a space by id. Missing spaces return ErrSpaceNotFound.
type Lookup interface {
	LookupSpace(ctx context.Context, id string) (Space, error)
}

// Lister enumerates known spaces.
type Lister interface {
	ListSpaces(ctx context.Context) ([]Space, error)
}

// Chain consults each Lookup in order.
type Chain []Lookup

// LookupSpace returns the first hit. Not-found moves on to the next lookup.
func (c Chain) LookupSpace(ctx context.Context, id string) (Space, error) {
	for _, l := range c {
		s, err := l.LookupSpace(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSpaceNotFound) {
			return Space{}, err
		}
	}
	return Space{}, ErrSpaceNotFound
}

// ListSpaces merges every member that implements Lister. Earlier members win on duplicate ids.
func (c Chain) ListSpaces(ctx context.Context) ([]Space, error) {
	seen := make(map[string]bool)
	var out []Space
	for _, l := range c {
		lister, ok := l.(Lister)
		if !ok {
			continue
		}
		spaces, err := lister.ListSpaces(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range spaces {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out, nil
}
