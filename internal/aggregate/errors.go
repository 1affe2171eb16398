package aggregate

import "errors"

var (
	ErrAlreadyExists    = errors.New("aggregate: already exists")
	ErrNotFound         = errors.New("aggregate: not found")
	ErrInvalidInput     = errors.New("aggregate: invalid input")
	ErrInvalidRole      = errors.New("aggregate: invalid role assignment")
	ErrTenantIDRequired = errors.New("aggregate: tenant id is required for non-platform-admin roles")
	ErrAPIKeyNotFound   = errors.New("aggregate: api key not found")
)
