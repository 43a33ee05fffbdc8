package store

import "errors"

// ErrNotFound marks lookups for players the registry has never onboarded.
var ErrNotFound = errors.New("player not found")
