package transaction

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called twice
	ErrAlreadyRunning = errors.New("transaction server already running")

	// ErrNotRunning is returned for operations that need a bound socket
	ErrNotRunning = errors.New("transaction server not running")

	// ErrDialogNotFound is returned when no dialog matches the Call-ID
	ErrDialogNotFound = errors.New("dialog not found")
)
