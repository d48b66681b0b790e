package lock

import (
	"errors"
	"fmt"

	"github.com/okian/openplay/internal/domain/errs"
)

// Sentinel kinds for lock errors.
var (
	ErrTimeout  = fmt.Errorf("lock wait exceeded: %w", errs.ErrConflict)
	ErrEmptyKey = errors.New("lock key is empty")
)
