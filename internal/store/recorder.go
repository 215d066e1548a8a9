package store

import (
	"context"

	"github.com/egeucak/api-doc-gpt/internal/filter"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

// Recorder writes conversation turns through to a session, redacting
// secrets first.
type Recorder struct {
	Store     Store
	SessionID string
	Redactor  *filter.Redactor
}

func (r *Recorder) Record(_ context.Context, turn types.Turn) error {
	_, err := r.Store.AppendTurn(r.SessionID, turn.Role, r.Redactor.Text(turn.Content))
	return err
}

// RecordAll writes turns in order and stops at the first failure.
func (r *Recorder) RecordAll(ctx context.Context, turns []types.Turn) error {
	for _, t := range turns {
		if err := r.Record(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
