package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrAuthFailed is returned when the token endpoint rejects the
	// configured credentials. It is fatal and never retried.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrEmptyResponse is returned when the service answers 2xx with a
	// structurally empty body. It is retried as a transport-class failure.
	ErrEmptyResponse = errors.New("empty response")

	// ErrContextCancelled is returned when the context is cancelled at a
	// chunk or attempt boundary.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidConfig is returned by New when the configuration is
	// rejected before any network activity.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorClass represents a classification of call failures.
type ErrorClass string

const (
	// ErrorClassAuth represents token acquisition failures.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents 4xx responses from the service.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses from the service.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassEmpty represents structurally empty responses.
	ErrorClassEmpty ErrorClass = "empty"
)

// APIError represents a failed call to the registry service.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("registry %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// InvalidServiceError is returned when the requested service is not in the
// configured set of available services. No network call is issued.
type InvalidServiceError struct {
	Service string
}

func (e *InvalidServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Service)
}

// ServiceUnavailableError is returned when all retry attempts for a chunk
// are exhausted. It carries the last observed failure.
type ServiceUnavailableError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %q unavailable after %d attempts: %v",
		e.Service, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ServiceUnavailableError) Unwrap() error {
	return e.Err
}

// classify categorizes an error for observability and retry handling.
func classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return ErrorClassAuth
	case errors.Is(err, ErrEmptyResponse):
		return ErrorClassEmpty
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}

	return ErrorClassNetwork
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ErrorClassNetwork
	}
}

// shouldRetry determines if an error should be retried based on its
// classification. Only credential rejection is final; the registry is flaky
// enough that everything else, 4xx included, goes through the backoff
// schedule.
func shouldRetry(class ErrorClass) bool {
	return class != ErrorClassAuth
}
