package domain

import "errors"

var (
	ErrUnauthenticated    = errors.New("no authenticated user")
	ErrUnauthorized       = errors.New("not allowed")
	ErrStoreUnavailable   = errors.New("document store unavailable")
	ErrNotFound           = errors.New("not found")
	ErrMutationInProgress = errors.New("concurrent mutation in progress")
	ErrNotSubscribed      = errors.New("entity not subscribed")
)
