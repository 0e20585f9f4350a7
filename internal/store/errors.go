package store

import "errors"

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateID  = errors.New("duplicate record id")
	ErrInvalidInput = errors.New("invalid input")
)
