package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrFatal   = errors.New("fatal engine condition")
	ErrUnknown = errors.New("unknown")
)
