package domain

import (
	"github.com/carevault/fieldcrypt/internal/errors"
)

// Field-specific error definitions.
var (
	// ErrFieldNotFound indicates no field is stored under the requested name.
	ErrFieldNotFound = errors.Wrap(errors.ErrNotFound, "encrypted field not found")
)
