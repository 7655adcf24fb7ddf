package message

import "errors"

var (
	// Parser errors
	ErrInvalidMessage     = errors.New("invalid SIP message")
	ErrInvalidRequestLine = errors.New("invalid request line")
	ErrNotRequest         = errors.New("message is a response, not a request")

	// Validation errors
	ErrMissingHeader = errors.New("missing required header")

	// Size errors
	ErrMessageTooLarge = errors.New("message too large")
)
