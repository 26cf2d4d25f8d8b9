package grants

import "errors"

var (
	ErrNotFound     = errors.New("grants: not found")
	ErrInvalidInput = errors.New("grants: invalid input")
	ErrConflict     = errors.New("grants: resource conflict")
)
