package engine

import (
	"context"
	"time"

	"github.com/trackdocs/foldersync/internal/storage"
	"github.com/trackdocs/foldersync/internal/tracker"
)

// TrackerClient is the slice of the tracking service the engine
// consumes. *tracker.HTTPClient implements it.
type TrackerClient interface {
	QueryWorkItems(ctx context.Context, scope tracker.Scope, since *time.Time) ([]tracker.WorkItem, error)
	GetWorkItem(ctx context.Context, id int) (*tracker.WorkItem, error)
	DownloadAttachment(ctx context.Context, ref string) ([]byte, error)
	UpdateField(ctx context.Context, id int, field, value string) error
}

// StorageClient is the slice of the storage service the engine
// consumes. *storage.HTTPClient implements it.
type StorageClient interface {
	RootRef() string
	ListChildren(ctx context.Context, itemRef string) ([]storage.Child, error)
	CreateFolder(ctx context.Context, parentRef, name string) (string, error)
	UploadFile(ctx context.Context, folderRef, name string, content []byte) error
	DownloadItem(ctx context.Context, itemRef string) ([]byte, error)
	DeleteItem(ctx context.Context, itemRef string) error
	CreateSharingLink(ctx context.Context, itemRef string) (string, error)
}

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
