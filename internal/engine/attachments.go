package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/trackdocs/foldersync/internal/namefmt"
	"github.com/trackdocs/foldersync/internal/storage"
)

// syncAttachments transfers the entity's attachments that are not yet
// present in the folder, by name. The policy is presence-based: a file
// already holding a name is left untouched even when its content
// differs. One attachment failing does not stop the rest; the failed
// names come back to the caller. The returned error is non-nil only
// when the folder listing itself fails, since without the listing no
// safe diff exists.
func (o *Orchestrator) syncAttachments(ctx context.Context, e Entity, folderRef string) (int, []string, error) {
	children, err := o.storage.ListChildren(ctx, folderRef)
	if err != nil {
		return 0, nil, fmt.Errorf("list folder contents: %w", err)
	}
	existing := make(map[string]struct{}, len(children))
	for _, child := range children {
		if !child.Folder {
			existing[strings.TrimSpace(child.Name)] = struct{}{}
		}
	}

	synced := 0
	var failed []string
	nameCount := map[string]int{}
	for _, att := range e.Attachments {
		name := namefmt.SanitizeFileName(att.Name, 0)
		// Entities can carry two attachments with the same display
		// name; the second and later get a numeric suffix so neither
		// shadows the other.
		if n := nameCount[name]; n > 0 {
			name = suffixedName(name, n+1)
		}
		nameCount[namefmt.SanitizeFileName(att.Name, 0)]++

		if _, ok := existing[name]; ok {
			continue
		}
		content, err := o.tracker.DownloadAttachment(ctx, att.DownloadRef)
		if err != nil {
			o.logger.Printf("entity %d: attachment %q download failed: %v", e.ID, name, err)
			failed = append(failed, name)
			continue
		}
		err = o.storage.UploadFile(ctx, folderRef, name, content)
		if errors.Is(err, storage.ErrExists) {
			// Raced another writer; presence is what we wanted.
			existing[name] = struct{}{}
			continue
		}
		if err != nil {
			o.logger.Printf("entity %d: attachment %q upload failed: %v", e.ID, name, err)
			failed = append(failed, name)
			continue
		}
		existing[name] = struct{}{}
		synced++
	}
	return synced, failed, nil
}

func suffixedName(name string, n int) string {
	ext := ""
	if dot := strings.LastIndex(name, "."); dot > 0 {
		ext = name[dot:]
		name = name[:dot]
	}
	return fmt.Sprintf("%s (%d)%s", name, n, ext)
}
