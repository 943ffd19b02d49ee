package cursor

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// StoreFactory builds a Store from a DSN, registered per scheme.
type StoreFactory func(dsn string) (Store, error)

var factoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]StoreFactory
}{
	factories: map[string]StoreFactory{},
}

// RegisterStoreFactory makes an additional DSN scheme available to
// FromDSN. Built-in schemes cannot be overridden by accident: explicit
// registration wins only for schemes the package does not handle.
func RegisterStoreFactory(scheme string, factory StoreFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	factoryRegistry.mu.Lock()
	defer factoryRegistry.mu.Unlock()
	factoryRegistry.factories[scheme] = factory
}

func lookupStoreFactory(scheme string) (StoreFactory, bool) {
	factoryRegistry.mu.RLock()
	defer factoryRegistry.mu.RUnlock()
	factory, ok := factoryRegistry.factories[normalizeScheme(scheme)]
	return factory, ok
}

// FromDSN builds a cursor store from a DSN. A bare path or file://
// DSN selects the JSON file store; memory:// an in-process store;
// postgres:// the Postgres store. An empty DSN yields a memory store,
// which in practice means every pass is a full scan.
func FromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryStore(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	switch scheme {
	case "", "file":
		return NewFileStore(dsnPath(parsed, dsn)), nil
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		if factory, ok := lookupStoreFactory(scheme); ok {
			return factory(dsn)
		}
		return nil, fmt.Errorf("cursor: unsupported store scheme %q", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return raw
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		return strings.TrimPrefix(raw, parsed.Scheme+"://")
	}
	return path
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
