package store

import (
	"errors"
	"fmt"
	"testing"
)

// Compile-time checks that the interface is importable and usable.
func TestStoreInterfaceExists(t *testing.T) {
	var _ Store
	var _ UserStore
	var _ BalanceStore
	_ = BalanceDeltaParams{}
	_ = CreateUserParams{}
}

func TestSentinelErrorsSurviveWrapping(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrDuplicate, ErrConcurrentModification, ErrUploadInProgress}
	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", sentinel))
		if !errors.Is(wrapped, sentinel) {
			t.Errorf("Expected wrapped error to match %v", sentinel)
		}
	}
}
