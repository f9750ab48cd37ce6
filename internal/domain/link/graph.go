package link

import (
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
)

// Graph holds every link of one event. Mirrors reference their root by id;
// traversal is a map lookup.
type Graph struct {
	EventID int64
	links   []*Link
	byID    map[int64]*Link
}

func NewGraph(eventID int64, links []*Link) *Graph {
	g := &Graph{EventID: eventID, byID: make(map[int64]*Link, len(links))}
	for _, l := range links {
		g.links = append(g.links, l)
		if l.ID != 0 {
			g.byID[l.ID] = l
		}
	}
	return g
}

func (g *Graph) Links() []*Link {
	return g.links
}

// Roots returns the links that are not mirrors, in load order.
func (g *Graph) Roots() []*Link {
	var roots []*Link
	for _, l := range g.links {
		if !l.IsMirror() {
			roots = append(roots, l)
		}
	}
	return roots
}

// Mirrors returns the links anchored at rootID.
func (g *Graph) Mirrors(rootID int64) []*Link {
	var mirrors []*Link
	for _, l := range g.links {
		if l.IsMirror() && *l.OriginLinkID == rootID {
			mirrors = append(mirrors, l)
		}
	}
	return mirrors
}

// Root resolves l to its root in exactly one hop.
func (g *Graph) Root(l *Link) (*Link, error) {
	if !l.IsMirror() {
		return l, nil
	}
	origin, ok := g.byID[*l.OriginLinkID]
	if !ok {
		return nil, errors.NewDomainError(
			"dangling_mirror",
			fmt.Sprintf("link %d points at unknown origin %d", l.ID, *l.OriginLinkID),
			errors.ErrInvalidMirror,
		)
	}
	if origin.IsMirror() {
		return nil, errors.NewDomainError(
			"mirror_chain",
			fmt.Sprintf("link %d points at mirror %d", l.ID, origin.ID),
			errors.ErrInvalidMirror,
		)
	}
	return origin, nil
}

// Validate checks that mappings are unique within the event and that every
// mirror reaches a root of the same event in one hop.
func (g *Graph) Validate() error {
	seenMapping := make(map[int64]int64, len(g.links))
	for _, l := range g.links {
		if l.EventID != g.EventID {
			return errors.NewDomainError(
				"foreign_link",
				fmt.Sprintf("link %d belongs to event %d, not %d", l.ID, l.EventID, g.EventID),
				errors.ErrInvalidMirror,
			)
		}
		if other, dup := seenMapping[l.MappingID]; dup {
			return errors.NewDomainError(
				"duplicate_mapping",
				fmt.Sprintf("links %d and %d share mapping %d", other, l.ID, l.MappingID),
				errors.ErrLinkExists,
			)
		}
		seenMapping[l.MappingID] = l.ID

		if !l.IsMirror() {
			continue
		}
		if *l.OriginLinkID == l.ID {
			return errors.NewDomainError(
				"self_mirror",
				fmt.Sprintf("link %d is its own origin", l.ID),
				errors.ErrInvalidMirror,
			)
		}
		if _, err := g.Root(l); err != nil {
			return err
		}
	}
	return nil
}

// NewMirror derives a link for mappingID. The anchor may itself be a mirror;
// the new link is always attached to the root so chains never form.
func (g *Graph) NewMirror(anchor *Link, mappingID int64, now time.Time) (*Link, error) {
	root, err := g.Root(anchor)
	if err != nil {
		return nil, err
	}
	if root.ID == 0 {
		return nil, errors.NewValidationError("origin_link_id", "root link must be persisted first")
	}
	for _, l := range g.links {
		if l.MappingID == mappingID {
			return nil, errors.ErrLinkExists
		}
	}
	m, err := NewRootLink(g.EventID, mappingID, now)
	if err != nil {
		return nil, err
	}
	originID := root.ID
	m.OriginLinkID = &originID
	g.links = append(g.links, m)
	return m, nil
}
