package alerts

import "errors"

// ErrNotFound indicates a missing alert record.
var ErrNotFound = errors.New("alert: not found")

// ErrInvalidQuery indicates unusable alert query arguments.
var ErrInvalidQuery = errors.New("alert: invalid query")
