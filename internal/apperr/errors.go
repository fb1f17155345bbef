package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	ErrMissingCredentials = errors.New("missing credentials")
	ErrPublishInProgress  = errors.New("publish already in progress")
	ErrNotPublishable     = errors.New("note is not flagged for publish")
)
