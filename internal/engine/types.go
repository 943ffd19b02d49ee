// Package engine is the reconciliation core: for every tracked entity
// in scope it materializes the canonical storage folder, mirrors the
// entity's attachments into it, and keeps the entity's
// documentation-link field pointing at it. Every step is idempotent,
// so an interrupted pass is safe to re-run.
package engine

import (
	"time"

	"github.com/trackdocs/foldersync/internal/namefmt"
	"github.com/trackdocs/foldersync/internal/tracker"
)

// Entity is the engine's view of one tracked work item, extracted from
// the raw field map once per pass.
type Entity struct {
	ID          int
	Title       string
	AreaPath    string
	State       string
	Proposal    string
	CurrentLink string
	Created     time.Time
	Changed     time.Time
	Attachments []tracker.Attachment
}

// EntityFromWorkItem projects the raw work item onto the engine's
// entity. Missing timestamps degrade to the current time so year
// bucketing always has a value.
func EntityFromWorkItem(wi tracker.WorkItem) Entity {
	created := wi.TimeField(tracker.FieldCreatedDate)
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return Entity{
		ID:          wi.ID,
		Title:       wi.StringField(tracker.FieldTitle),
		AreaPath:    wi.StringField(tracker.FieldAreaPath),
		State:       wi.StringField(tracker.FieldState),
		Proposal:    wi.StringField(tracker.FieldProposalNumber),
		CurrentLink: wi.StringField(tracker.FieldDocumentationLink),
		Created:     created,
		Changed:     wi.TimeField(tracker.FieldChangedDate),
		Attachments: wi.Attachments(),
	}
}

// Client returns the entity's normalized client name.
func (e Entity) Client(overrides namefmt.Overrides) string {
	return namefmt.NormalizeClient(namefmt.ClientFromAreaPath(e.AreaPath), overrides)
}

// FolderTarget is the canonical storage location for one entity: the
// ordered path segments from the drive root to the entity's folder.
type FolderTarget struct {
	Segments []string
	Archived bool
}

// Leaf is the entity folder's own segment name.
func (t FolderTarget) Leaf() string {
	if len(t.Segments) == 0 {
		return ""
	}
	return t.Segments[len(t.Segments)-1]
}

// LinkOutcome classifies the link-reconciliation step.
type LinkOutcome int

const (
	LinkSkipped LinkOutcome = iota
	LinkUnchanged
	LinkUpdated
	LinkRejected
)

func (o LinkOutcome) String() string {
	switch o {
	case LinkSkipped:
		return "skipped"
	case LinkUnchanged:
		return "unchanged"
	case LinkUpdated:
		return "updated"
	case LinkRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the terminal per-entity classification for one pass.
type Outcome int

const (
	// OutcomeSuccess: folder ensured, attachments deposited, link
	// current.
	OutcomeSuccess Outcome = iota
	// OutcomePartial: folder and attachments are in place but the
	// tracking service rejected the link write (validation). The link
	// is not retried within the same pass.
	OutcomePartial
	// OutcomeFailed: a step failed hard after its retry budget.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result records what one pass did for one entity.
type Result struct {
	EntityID          int
	FolderEnsured     bool
	FolderRef         string
	AttachmentsSynced int
	FailedAttachments []string
	Link              LinkOutcome
	Outcome           Outcome
	Err               error
}

// PassReport summarizes one orchestrator pass.
type PassReport struct {
	PassID         string
	ScopeKey       string
	FullScan       bool
	StartedAt      time.Time
	Results        []Result
	NewCursor      time.Time
	CursorAdvanced bool
}

// Counts tallies outcomes for end-of-pass reporting.
func (r *PassReport) Counts() (succeeded, partial, failed int) {
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeSuccess:
			succeeded++
		case OutcomePartial:
			partial++
		case OutcomeFailed:
			failed++
		}
	}
	return succeeded, partial, failed
}
