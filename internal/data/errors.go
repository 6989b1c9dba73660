package data

import "errors"

var (
	ErrBadParameter         = errors.New("bad parameter")
	ErrNotInitialized       = errors.New("not initialized")
	ErrAlreadyInitialized   = errors.New("already initialized")
	ErrThreadAlreadyRunning = errors.New("thread already running")
	ErrThreadProcessing     = errors.New("thread processing")
	ErrCanceled             = errors.New("canceled")
	ErrSystem               = errors.New("system error")
	ErrTransport            = errors.New("transport error")
	ErrFile                 = errors.New("file error")
	ErrNotFound             = errors.New("not found")
)

// ErrorString returns the short human description used in progress UIs and
// completion events. A nil error reads "No error".
func ErrorString(err error) string {
	switch {
	case err == nil:
		return "No error"
	case errors.Is(err, ErrBadParameter):
		return "Bad parameters error"
	case errors.Is(err, ErrNotInitialized):
		return "Not initialized error"
	case errors.Is(err, ErrAlreadyInitialized):
		return "Already initialized error"
	case errors.Is(err, ErrThreadAlreadyRunning):
		return "Thread already running error"
	case errors.Is(err, ErrThreadProcessing):
		return "Thread processing error"
	case errors.Is(err, ErrCanceled):
		return "Canceled received"
	case errors.Is(err, ErrSystem):
		return "System error"
	case errors.Is(err, ErrTransport):
		return "Ftp error"
	case errors.Is(err, ErrFile):
		return "File error"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	default:
		return "Unknown value"
	}
}
