package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/trackdocs/foldersync/internal/tracker"
)

// reconcileLink obtains the folder's sharing URL and writes it to the
// entity's documentation-link field when the stored value differs.
// A validation-class rejection from the tracking service comes back as
// LinkRejected with a nil error: the folder and attachment work
// already done for the entity stands, and the link write must not be
// retried this pass.
func (o *Orchestrator) reconcileLink(ctx context.Context, e Entity, folderRef string) (LinkOutcome, string, error) {
	link, err := o.storage.CreateSharingLink(ctx, folderRef)
	if err != nil {
		return LinkSkipped, "", err
	}
	if strings.TrimSpace(e.CurrentLink) == link {
		return LinkUnchanged, link, nil
	}
	err = o.tracker.UpdateField(ctx, e.ID, o.linkField, link)
	if err == nil {
		return LinkUpdated, link, nil
	}
	var verr *tracker.ValidationError
	if errors.As(err, &verr) {
		o.logger.Printf("entity %d: link write rejected by tracking service: %v", e.ID, verr)
		return LinkRejected, link, nil
	}
	return LinkSkipped, link, err
}
