package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")

	// ErrorValidation marks locally detectable bad arguments. Never retried.
	ErrorValidation = errors.New("validation error")
)
