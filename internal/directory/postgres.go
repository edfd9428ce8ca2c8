package directory

import (
	"context"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// ExpertLister is the query the postgres store exposes (storage.DB).
type ExpertLister interface {
	ListActiveExperts(ctx context.Context, limit int) ([]model.Candidate, error)
}

// PostgresSource lists active experts from the postgres record store.
type PostgresSource struct {
	store ExpertLister
	limit int
}

// NewPostgresSource creates a source that reads at most limit experts.
func NewPostgresSource(store ExpertLister, limit int) *PostgresSource {
	if limit <= 0 {
		limit = DefaultMaxRecords
	}
	return &PostgresSource{store: store, limit: limit}
}

// Name implements Source.
func (s *PostgresSource) Name() string { return "postgres" }

// ListCandidates implements Source.
func (s *PostgresSource) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	return s.store.ListActiveExperts(ctx, s.limit)
}
