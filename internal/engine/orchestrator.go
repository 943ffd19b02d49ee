package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackdocs/foldersync/internal/cursor"
	"github.com/trackdocs/foldersync/internal/namefmt"
	"github.com/trackdocs/foldersync/internal/storage"
	"github.com/trackdocs/foldersync/internal/tracker"
)

// ErrWrongType marks a single-entity sync request for a work item
// whose type is outside the configured scope.
var ErrWrongType = errors.New("work item type out of scope")

// ScanError aborts a whole pass: the entity snapshot could not be
// fetched, so no partial list is trusted and the cursor stays put.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string { return "entity snapshot fetch failed: " + e.Err.Error() }
func (e *ScanError) Unwrap() error { return e.Err }

// Options configures an Orchestrator.
type Options struct {
	Tracker      TrackerClient
	Storage      StorageClient
	Cursors      cursor.Store
	BasePath     string
	LinkField    string
	WorkItemType string
	ClosedStates []string
	Overrides    namefmt.Overrides
	Logger       Logger
}

// Orchestrator drives reconciliation passes. Entities are processed
// sequentially under one mutex so no two callers ever ensure the same
// path concurrently; webhook-triggered single syncs and scheduled
// passes share that authority.
type Orchestrator struct {
	tracker      TrackerClient
	storage      StorageClient
	cursors      cursor.Store
	resolver     *Resolver
	ensurer      *Ensurer
	linkField    string
	workItemType string
	logger       Logger

	mu sync.Mutex
}

// New builds an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Tracker == nil {
		return nil, fmt.Errorf("engine: tracker client is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("engine: storage client is required")
	}
	if opts.Cursors == nil {
		opts.Cursors = cursor.NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	linkField := strings.TrimSpace(opts.LinkField)
	if linkField == "" {
		linkField = tracker.FieldDocumentationLink
	}
	workItemType := strings.TrimSpace(opts.WorkItemType)
	if workItemType == "" {
		workItemType = "Feature"
	}
	resolver := NewResolver(opts.BasePath, opts.ClosedStates, opts.Overrides)
	return &Orchestrator{
		tracker:      opts.Tracker,
		storage:      opts.Storage,
		cursors:      opts.Cursors,
		resolver:     resolver,
		ensurer:      NewEnsurer(opts.Storage, logger),
		linkField:    linkField,
		workItemType: workItemType,
		logger:       logger,
	}, nil
}

// SetOverrides installs a new client-name override table, picked up by
// the next resolution.
func (o *Orchestrator) SetOverrides(overrides namefmt.Overrides) {
	o.resolver.SetOverrides(overrides)
}

// RunPass executes one reconciliation pass over the scope. The scan is
// incremental (changed strictly after the stored cursor) unless no
// cursor exists or fullScan forces a complete rescan. The cursor
// advances to the scan-issue timestamp, and only when the pass was not
// aborted: an entity changing mid-pass is seen again next time rather
// than skipped forever.
func (o *Orchestrator) RunPass(ctx context.Context, scope tracker.Scope, fullScan bool) (*PassReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if scope.WorkItemType == "" {
		scope.WorkItemType = o.workItemType
	}
	report := &PassReport{
		PassID:    uuid.NewString(),
		ScopeKey:  scope.Key(),
		StartedAt: time.Now().UTC(),
	}

	var since *time.Time
	if !fullScan {
		ts, ok, err := o.cursors.Load(ctx, scope.Key())
		if err != nil {
			// Fail safe toward completeness: an unreadable cursor
			// means a full scan, same as no cursor at all.
			o.logger.Printf("cursor load failed, forcing full scan: %v", err)
			ok = false
		}
		if ok {
			boundary := ts
			since = &boundary
		}
	}
	report.FullScan = since == nil

	scanIssuedAt := time.Now().UTC()
	items, err := o.tracker.QueryWorkItems(ctx, scope, since)
	if err != nil {
		return report, &ScanError{Err: err}
	}

	entities := make([]Entity, 0, len(items))
	for _, wi := range items {
		if itemType := wi.StringField(tracker.FieldWorkItemType); itemType != "" && !strings.EqualFold(itemType, scope.WorkItemType) {
			continue
		}
		entities = append(entities, EntityFromWorkItem(wi))
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	var deferred []int
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			// Aborted between entities: cursor stays put, committed
			// side effects are idempotent no-ops on the next run.
			return report, err
		}
		res := o.processEntity(ctx, e, false)
		if res.Link == LinkRejected {
			deferred = append(deferred, len(report.Results))
		}
		report.Results = append(report.Results, res)
	}

	// Second phase: entities whose link write was rejected still get a
	// full document deposit. Only folder-ensure and attachment-sync
	// run here; the link write is skipped so the rejection does not
	// repeat.
	for _, idx := range deferred {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		prior := report.Results[idx]
		e := entityByID(entities, prior.EntityID)
		retry := o.processEntity(ctx, e, true)
		prior.AttachmentsSynced += retry.AttachmentsSynced
		prior.FailedAttachments = retry.FailedAttachments
		if retry.Outcome == OutcomeFailed {
			prior.Err = retry.Err
		}
		report.Results[idx] = prior
	}

	if err := o.cursors.Save(ctx, scope.Key(), scanIssuedAt); err != nil {
		o.logger.Printf("cursor save failed, next pass rescans: %v", err)
	} else {
		report.NewCursor = scanIssuedAt
		report.CursorAdvanced = true
	}
	return report, nil
}

// SyncOne reconciles a single entity by id, outside any cursor
// bookkeeping. Used by the webhook receiver and the manual CLI path.
func (o *Orchestrator) SyncOne(ctx context.Context, id int) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	wi, err := o.tracker.GetWorkItem(ctx, id)
	if err != nil {
		return Result{EntityID: id}, err
	}
	if itemType := wi.StringField(tracker.FieldWorkItemType); itemType != "" && !strings.EqualFold(itemType, o.workItemType) {
		return Result{EntityID: id}, fmt.Errorf("work item %d is a %s, not a %s: %w", id, itemType, o.workItemType, ErrWrongType)
	}
	return o.processEntity(ctx, EntityFromWorkItem(*wi), false), nil
}

// processEntity runs the per-entity sequence: resolve, ensure folder,
// migrate archived content, sync attachments, reconcile link. The
// sequence stops at the first hard failure; siblings are unaffected.
func (o *Orchestrator) processEntity(ctx context.Context, e Entity, skipLink bool) Result {
	res := Result{EntityID: e.ID, Link: LinkSkipped}

	target := o.resolver.Resolve(e)
	folderRef, err := o.ensurer.Ensure(ctx, target.Segments)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("ensure folder: %w", err)
		return res
	}
	res.FolderEnsured = true
	res.FolderRef = folderRef

	if target.Archived {
		// Content left behind at the active path signals a move;
		// best-effort, the attachments below fill any remaining gap.
		if err := o.migrateClosed(ctx, e, folderRef); err != nil {
			o.logger.Printf("entity %d: archival move incomplete: %v", e.ID, err)
		}
	}

	synced, failedNames, err := o.syncAttachments(ctx, e, folderRef)
	res.AttachmentsSynced = synced
	res.FailedAttachments = failedNames
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}

	if skipLink {
		res.Outcome = OutcomeSuccess
		return res
	}

	linkOutcome, _, err := o.reconcileLink(ctx, e, folderRef)
	res.Link = linkOutcome
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("reconcile link: %w", err)
		return res
	}
	if linkOutcome == LinkRejected {
		res.Outcome = OutcomePartial
		return res
	}
	res.Outcome = OutcomeSuccess
	return res
}

// migrateClosed moves content from the entity's former active folder
// to the archived one, then removes the active folder and, when the
// move emptied it, the client folder above it. Move means copy plus
// delete here; the storage service offers no atomic rename across
// branches.
func (o *Orchestrator) migrateClosed(ctx context.Context, e Entity, archivedRef string) error {
	activeSegments := o.resolver.ResolveActive(e).Segments
	activeRef, found, err := o.ensurer.Lookup(ctx, activeSegments)
	if err != nil || !found || activeRef == archivedRef {
		return err
	}

	children, err := o.storage.ListChildren(ctx, activeRef)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Folder {
			// Entity folders are flat; anything else is left for a
			// human to look at rather than silently flattened.
			o.logger.Printf("entity %d: unexpected subfolder %q at active path, not moved", e.ID, child.Name)
			continue
		}
		content, err := o.storage.DownloadItem(ctx, child.ID)
		if err != nil {
			return err
		}
		err = o.storage.UploadFile(ctx, archivedRef, child.Name, content)
		if err != nil && !errors.Is(err, storage.ErrExists) {
			return err
		}
	}
	if err := o.storage.DeleteItem(ctx, activeRef); err != nil {
		return err
	}

	// Drop the client folder too when this was its last entity.
	if len(activeSegments) >= 2 {
		clientSegments := activeSegments[:len(activeSegments)-1]
		clientRef, found, err := o.ensurer.Lookup(ctx, clientSegments)
		if err != nil || !found {
			return err
		}
		remaining, err := o.storage.ListChildren(ctx, clientRef)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := o.storage.DeleteItem(ctx, clientRef); err != nil {
				return err
			}
		}
	}
	return nil
}

func entityByID(entities []Entity, id int) Entity {
	for _, e := range entities {
		if e.ID == id {
			return e
		}
	}
	return Entity{ID: id}
}
