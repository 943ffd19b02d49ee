package engine

import (
	"context"
	"strings"
)

// Ensurer materializes folder paths in storage, creating only the
// segments that do not already exist. Existing children are matched
// case-insensitively: storage backends with case-insensitive path
// semantics would otherwise grow duplicate sibling folders.
type Ensurer struct {
	store  StorageClient
	logger Logger
}

func NewEnsurer(store StorageClient, logger Logger) *Ensurer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Ensurer{store: store, logger: logger}
}

// Ensure walks the path root-to-leaf and returns the leaf folder's
// reference. Calling it again with the same path creates nothing and
// returns the same reference. A create that loses a race to a
// concurrent sibling resolves to the existing folder inside the
// storage client.
func (en *Ensurer) Ensure(ctx context.Context, segments []string) (string, error) {
	ref := en.store.RootRef()
	for _, segment := range segments {
		existing, found, err := en.findChildFolder(ctx, ref, segment)
		if err != nil {
			return "", err
		}
		if found {
			ref = existing
			continue
		}
		created, err := en.store.CreateFolder(ctx, ref, segment)
		if err != nil {
			return "", err
		}
		ref = created
	}
	return ref, nil
}

// Lookup resolves a path without creating anything. The second return
// is false when any segment is missing.
func (en *Ensurer) Lookup(ctx context.Context, segments []string) (string, bool, error) {
	ref := en.store.RootRef()
	for _, segment := range segments {
		existing, found, err := en.findChildFolder(ctx, ref, segment)
		if err != nil {
			return "", false, err
		}
		if !found {
			return "", false, nil
		}
		ref = existing
	}
	return ref, true, nil
}

func (en *Ensurer) findChildFolder(ctx context.Context, parentRef, name string) (string, bool, error) {
	children, err := en.store.ListChildren(ctx, parentRef)
	if err != nil {
		return "", false, err
	}
	for _, child := range children {
		if child.Folder && strings.EqualFold(child.Name, name) {
			return child.ID, true, nil
		}
	}
	return "", false, nil
}
