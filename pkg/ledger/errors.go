// Copyright 2025 Certen Protocol
//
// Package ledger provides sentinel errors for singleton-store operations.

package ledger

import "errors"

// Sentinel errors for safety-singleton operations.
var (
	// ErrNotFound is returned when a singleton has never been written for
	// the requested epoch (e.g. HighQC before the first vote of a new
	// epoch).
	ErrNotFound = errors.New("ledger: singleton not found")
)
