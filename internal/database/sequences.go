package database

import (
	"context"
	"fmt"
)

// ReserveSequence advances a namespace counter by step and returns the new
// high-water mark. The first reservation for a namespace returns step.
func (s *Service) ReserveSequence(ctx context.Context, namespace string, step int64) (int64, error) {
	if step <= 0 {
		return 0, fmt.Errorf("sequence step must be positive, got %d", step)
	}
	var last int64
	if err := s.db.QueryRowContext(ctx, queryReserveSequence, namespace, step).Scan(&last); err != nil {
		return 0, fmt.Errorf("unable to reserve sequence %s: %w", namespace, err)
	}
	return last, nil
}
