package cerr

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/foreman/internal/state"
)

// WrapStoreError translates a persistence failure into a coded error so no
// raw driver error reaches a caller. Errors that already carry a code pass
// through unchanged.
func WrapStoreError(target string, err error) error {
	if err == nil {
		return nil
	}
	var cErr *Error
	if errors.As(err, &cErr) {
		return err
	}
	switch {
	case errors.Is(err, state.ErrNotFound):
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, state.ErrConflict):
		return NewError(Aborted, fmt.Sprintf("%s was modified concurrently, re-fetch and retry", target), err)
	case errors.Is(err, state.ErrExists):
		return NewError(AlreadyExists, fmt.Sprintf("%s already exists", target), err)
	case errors.Is(err, state.ErrInvalid):
		return NewError(InvalidArgument, fmt.Sprintf("invalid %s: %v", target, err), err)
	case errors.Is(err, context.Canceled):
		return NewError(Canceled, "request canceled", err)
	}
	return NewError(Unavailable, "storage unavailable", fmt.Errorf("failed to access %s: %w", target, err))
}
