package scheduler

import "errors"

// ErrUnknownKind is returned by Registry.Set for an unrecognized policy
// kind; the admin API surfaces this as 400 (spec.md §6).
var ErrUnknownKind = errors.New("scheduler: unknown kind")
