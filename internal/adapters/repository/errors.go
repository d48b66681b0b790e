package repository

import (
	"errors"
	"fmt"

	"github.com/okian/openplay/internal/domain/errs"
)

// Sentinel kinds for storage errors. Each wraps a domain kind so callers can
// match either.
var (
	ErrNotFound     = fmt.Errorf("record %w", errs.ErrNotFound)
	ErrDuplicate    = fmt.Errorf("duplicate record: %w", errs.ErrConflict)
	ErrInvalidLimit = fmt.Errorf("invalid limit: %w", errs.ErrValidation)
	ErrClosed       = errors.New("store closed")
)
