package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrSheetNotFound       = errors.New("sheet not found")
	ErrCellNotFound        = errors.New("cell not found")
	ErrEmptyValue          = errors.New("empty value")
	ErrGenerationRange     = errors.New("generation index out of range")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrJobTimeout          = errors.New("job timed out")
	ErrJobFailed           = errors.New("job failed")
	ErrUploadFailed        = errors.New("media upload failed")
	ErrCancelled           = errors.New("cancelled")
)
