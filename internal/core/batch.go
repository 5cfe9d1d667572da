package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"passcore/pkg/domain"
)

// DefaultBatchParallelism is used by UpdateMany when parallelism is not positive.
const DefaultBatchParallelism = 4

// BatchResult is the outcome of one submission in a batch.
type BatchResult struct {
	ID     string
	Status domain.Status
	Err    error
}

// UpdateMany runs CalculateAndUpdateSubmissionStatus for every id with at most
// parallelism calls in flight. A failing submission does not stop the others.
// Results are returned in the order of ids.
func (s *StatusService) UpdateMany(ctx context.Context, ids []string, overrideUIStatus bool, parallelism int) []BatchResult {
	if parallelism <= 0 {
		parallelism = DefaultBatchParallelism
	}
	results := make([]BatchResult, len(ids))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			st, err := s.CalculateAndUpdateSubmissionStatus(ctx, id, overrideUIStatus)
			results[i] = BatchResult{ID: id, Status: st, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
