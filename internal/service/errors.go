package service

import "errors"

// Domain errors. Handlers map them to HTTP status codes with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("account not found")
	ErrConflict           = errors.New("account already registered")
	ErrInvalidToken       = errors.New("token expired or invalid")
	ErrUnverified         = errors.New("email not verified")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRange       = errors.New("invalid time range")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrDependency         = errors.New("dependency failure")
)
