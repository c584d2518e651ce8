package connection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by sends and subscriptions issued while no producer handle exists.
	ErrNotConnected = errors.New("producer unavailable: not connected to broker")

	// ErrConnectFailed marks the terminal outcome of an exhausted connect-with-retry loop.
	ErrConnectFailed = errors.New("broker connection failed")
)

// ConnectError reports that every connect attempt failed.
// It matches both ErrConnectFailed and the last attempt's error with errors.Is.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", ErrConnectFailed, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnectFailed, e.Err}
}
