package ingest

import (
	"context"

	"github.com/anstrom/cr4wler/internal/scanning"
)

// BatchSaver persists a batch of hosts and partitions it by outcome.
type BatchSaver interface {
	SaveBatch(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error)
}

// StoreSubmitter submits hosts straight to a local store, bypassing the
// HTTP API.
type StoreSubmitter struct {
	store BatchSaver
}

// NewStoreSubmitter returns a Submitter backed by store.
func NewStoreSubmitter(store BatchSaver) *StoreSubmitter {
	return &StoreSubmitter{store: store}
}

// Submit implements Submitter.
func (s *StoreSubmitter) Submit(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error) {
	return s.store.SaveBatch(ctx, hosts)
}
