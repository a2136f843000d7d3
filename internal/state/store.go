package state

import (
	"context"

	"github.com/palma21/risk-monitor-bot/internal/models"
)

// UpdateFunc receives a copy of the current author record, or nil when the
// author is not monitored, and returns the record to persist. Returning nil
// with no error leaves the stored record untouched. It may run more than
// once when a store retries after a conflict.
type UpdateFunc func(current *models.AuthorState) (*models.AuthorState, error)

// Store persists MonitorState across runs
type Store interface {
	Load(ctx context.Context) (*models.MonitorState, error)
	Save(ctx context.Context, state *models.MonitorState) error
	// Update is an atomic read-modify-write of one author record
	Update(ctx context.Context, author string, fn UpdateFunc) error
}
