package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyResolved is returned when a resolution already exists for a
// (study, phase). Re-resolution requires an explicit reset first.
var ErrAlreadyResolved = errors.New("storage: resolution already recorded")

// ErrPhaseMismatch is returned when a decision write names a phase the study
// is not currently in, or an archived study. The write asserts the phase
// under a row share lock, so a vote racing a phase advancement waits for the
// advance to commit and then fails here instead of recording a stale vote.
var ErrPhaseMismatch = errors.New("storage: study not in the named phase")
