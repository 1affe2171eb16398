package command

import (
	"errors"

	"github.com/smallbiznis/platformd/internal/aggregate"
	"github.com/smallbiznis/platformd/internal/eventstore"
)

// Sentinel errors command handlers return, coarse enough for
// internal/server to map onto HTTP status codes the way the reference
// gateway's CoreError variants map onto StatusCode (NotFound -> 404,
// Validation -> 400, Concurrency -> 409, Unauthorized -> 401).
var (
	ErrNotFound     = errors.New("command: not found")
	ErrValidation   = errors.New("command: validation failed")
	ErrConflict     = errors.New("command: concurrency conflict")
	ErrUnauthorized = errors.New("command: unauthorized")
)

// translateAggregateErr maps an aggregate-layer error onto one of this
// package's coarser sentinels, mirroring register_user.rs's UserError ->
// CoreError match arms.
func translateAggregateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		return ErrConflict
	case errors.Is(err, aggregate.ErrNotFound), errors.Is(err, aggregate.ErrAPIKeyNotFound):
		return ErrNotFound
	case errors.Is(err, aggregate.ErrAlreadyExists),
		errors.Is(err, aggregate.ErrInvalidInput),
		errors.Is(err, aggregate.ErrInvalidRole),
		errors.Is(err, aggregate.ErrTenantIDRequired):
		return ErrValidation
	default:
		return err
	}
}
