// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates an illegal state transition or concurrent
// modification conflict.
var ErrConflict = errors.New("conflict: illegal state transition")

// ErrValidation indicates malformed input.
var ErrValidation = errors.New("validation failed")
