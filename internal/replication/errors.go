package replication

import (
	"errors"

	"github.com/tunnelmesh/aaarepl/pkg/wire"
)

// Replication error types.
var (
	ErrUnregisteredType = errors.New("unregistered type")
	ErrUnknownType      = errors.New("unknown type identifier")
	ErrTruncated        = wire.ErrTruncated
	ErrInvalidOperation = errors.New("invalid operation")
	ErrDuplicateType    = errors.New("type already registered")
	ErrFrameTooLarge    = errors.New("frame too large")

	ErrReadFailed  = errors.New("transport read failed")
	ErrWriteFailed = errors.New("transport write failed")
	ErrBindFailed  = errors.New("transport bind failed")
)
