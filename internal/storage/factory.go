// Package storage constructs connection wrappers for the supported
// storage engines. Connection lifecycle only: query semantics belong
// to the vendor clients.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// ErrUnknownEngine is returned for storage engine identifiers outside
// the supported set.
var ErrUnknownEngine = errors.New("unknown storage engine")

// Connector is a connected storage handle.
type Connector interface {
	Engine() policy.StorageEngine
	Ping(ctx context.Context) error
	Close() error
	Health() map[string]interface{}
}

// Open constructs the connector matching the engine identifier using
// the region-scoped configuration.
func Open(engine policy.StorageEngine, cfg *config.EnvironmentConfig) (Connector, error) {
	switch engine {
	case policy.EngineRelational:
		return ConnectPostgres(cfg.DatabaseURL)
	case policy.EngineDocumentStore:
		return ConnectDocStore(cfg.DocStoreURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}
