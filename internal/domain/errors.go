package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyResponse indicates the model returned no text
	ErrEmptyResponse = errors.New("empty model response")
	// ErrUnsupported indicates the provider lacks a capability
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrProviderNotConfigured indicates missing provider credentials
	ErrProviderNotConfigured = errors.New("provider not configured")
)
