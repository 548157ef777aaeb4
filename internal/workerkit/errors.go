package workerkit

import "errors"

// Error kinds a command handler may return. The first four are retried
// per the retry-with-backoff envelope (see IsRetryable); any other error
// from a handler is not retried and fails the delivery at once.
var (
	ErrDataIntegrity     = errors.New("workerkit: data integrity error")
	ErrRemoteExecution   = errors.New("workerkit: remote execution error")
	ErrNetwork           = errors.New("workerkit: network error")
	ErrFileNotFound      = errors.New("workerkit: file not found")
	ErrHandlerNotFound   = errors.New("workerkit: no handler registered for command")
)

// IsRetryable reports whether err is one of the four retryable kinds.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDataIntegrity) ||
		errors.Is(err, ErrRemoteExecution) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrFileNotFound)
}
