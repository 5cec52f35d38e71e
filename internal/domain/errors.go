package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyQuery   = errors.New("query must not be blank")
	ErrNoImage      = errors.New("no image provided")
	ErrInvalidImage = errors.New("invalid image")
	ErrGeneration   = errors.New("generation failed")
)
