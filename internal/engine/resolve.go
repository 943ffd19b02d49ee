package engine

import (
	"strconv"
	"strings"
	"sync"

	"github.com/trackdocs/foldersync/internal/namefmt"
)

// archivedSegment is the branch closed entities move under, inserted
// between the year and the client.
const archivedSegment = "Closed"

var defaultClosedStates = []string{"Closed", "Done", "Resolved", "Completed"}

// Resolver computes the canonical folder target for an entity. It is a
// pure function of the entity's fields: the year comes from the
// creation timestamp, never from the clock, so archival moves stay in
// the entity's original year bucket.
type Resolver struct {
	base         []string
	closedStates map[string]struct{}

	mu        sync.RWMutex
	overrides namefmt.Overrides
}

// NewResolver builds a resolver. basePath is the slash-separated path
// of the library root under the drive (may be empty). closedStates
// extends the default set of states treated as closed.
func NewResolver(basePath string, closedStates []string, overrides namefmt.Overrides) *Resolver {
	states := make(map[string]struct{})
	for _, s := range defaultClosedStates {
		states[strings.ToLower(s)] = struct{}{}
	}
	for _, s := range closedStates {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			states[s] = struct{}{}
		}
	}
	var base []string
	for _, seg := range strings.Split(basePath, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			base = append(base, seg)
		}
	}
	return &Resolver{base: base, closedStates: states, overrides: overrides}
}

// SetOverrides swaps the client-name override table. Safe to call
// while passes run; the next resolution sees the new table.
func (r *Resolver) SetOverrides(overrides namefmt.Overrides) {
	r.mu.Lock()
	r.overrides = overrides
	r.mu.Unlock()
}

// Resolve returns the canonical target for the entity given its
// current status: base/year/client/leaf while active,
// base/year/Closed/client/leaf once closed.
func (r *Resolver) Resolve(e Entity) FolderTarget {
	archived := r.IsClosed(e.State)
	return FolderTarget{Segments: r.segments(e, archived), Archived: archived}
}

// ResolveActive returns the non-archived target regardless of status.
// Used to find content left behind at the active path after an entity
// closes.
func (r *Resolver) ResolveActive(e Entity) FolderTarget {
	return FolderTarget{Segments: r.segments(e, false)}
}

// IsClosed reports whether a status name counts as closed.
func (r *Resolver) IsClosed(state string) bool {
	_, ok := r.closedStates[strings.ToLower(strings.TrimSpace(state))]
	return ok
}

func (r *Resolver) segments(e Entity, archived bool) []string {
	r.mu.RLock()
	overrides := r.overrides
	r.mu.RUnlock()

	segments := make([]string, 0, len(r.base)+4)
	segments = append(segments, r.base...)
	segments = append(segments, strconv.Itoa(e.Created.Year()))
	if archived {
		segments = append(segments, archivedSegment)
	}
	segments = append(segments, e.Client(overrides))
	segments = append(segments, namefmt.BuildFolderName(e.ID, e.Proposal, e.Title))
	return segments
}
