// Package source produces document batches for the index writer from the
// corpora the service can serve: time zones, text files split into lines,
// exported Go types and SQL query results.
package source

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/postgres"
)

// Source loads a complete document set. Implementations satisfy
// system.Source.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]document.Document, error)
}

// DefaultFields returns the fields a bare query term should search for
// documents produced by the named source kind.
func DefaultFields(kind string) []string {
	switch kind {
	case config.SourceTimeZones:
		return []string{FieldZoneID, FieldZoneDisplayName}
	case config.SourceLines:
		return []string{FieldContents}
	case config.SourcePackages:
		return []string{FieldTypeName, FieldPackageName}
	default:
		return nil
	}
}

// FromConfig builds the file-based sources. The postgres source needs a
// database handle and is built with NewSQL.
func FromConfig(cfg config.SourceConfig) (Source, error) {
	switch cfg.Kind {
	case config.SourceTimeZones:
		return &TimeZones{Zones: cfg.Zones, Root: cfg.Root}, nil
	case config.SourceLines:
		if cfg.Root == "" {
			return nil, fmt.Errorf("source %s needs a root path", cfg.Kind)
		}
		return &Lines{Paths: []string{cfg.Root}}, nil
	case config.SourcePackages:
		root := cfg.Root
		if root == "" {
			root = "."
		}
		return &GoPackages{Root: root}, nil
	default:
		return nil, fmt.Errorf("source %q cannot be built from configuration alone", cfg.Kind)
	}
}

// Open builds the configured source, connecting to postgres when the
// source kind needs it. The returned close function releases the
// connection and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Source, func() error, error) {
	noop := func() error { return nil }
	if cfg.Source.Kind != config.SourcePostgres {
		src, err := FromConfig(cfg.Source)
		return src, noop, err
	}
	client, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, noop, err
	}
	src, err := NewSQL(client.DB, cfg.Source.Query, cfg.Source.Columns, cfg.Source.Facets)
	if err != nil {
		client.Close()
		return nil, noop, err
	}
	return src, client.Close, nil
}
