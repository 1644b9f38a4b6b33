package store

import "errors"

// ErrNotFound indicates a missing document or credential.
var ErrNotFound = errors.New("record not found")
