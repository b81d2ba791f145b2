package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Pipeline Errors
	ErrInsufficientHistory = errors.New("not enough trailing bars for a valid indicator snapshot")
	ErrIllegalTransition   = errors.New("illegal position state transition requested")

	// Data Provider Errors
	ErrProviderUnavailable  = errors.New("price history provider is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the data provider")
	ErrRateLimited          = errors.New("provider rate limit exceeded")
	ErrAuthenticationFailed = errors.New("provider authentication failed (check API keys)")

	// Notifier Errors
	ErrNotifierFailed = errors.New("alert dispatch could not be confirmed")

	// Database Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
