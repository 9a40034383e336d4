package core

import (
	"errors"
	"fmt"
)

// Machine-checkable error kinds surfaced across every front-end.
const (
	KindConfiguration   = "configuration"
	KindAuthentication  = "authentication"
	KindNotFound        = "not_found"
	KindExtraction      = "extraction"
	KindEmbedding       = "embedding"
	KindStore           = "store"
	KindInvalidArgument = "invalid_argument"
	KindInternal        = "internal"
)

// ConfigurationError is a missing or invalid setting detected at startup.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s %s", e.Key, e.Reason)
}

// AuthenticationError means the caller identity was absent or rejected.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// NotFoundError is returned when a knowledge set, file or chunk does not exist for the caller.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// InvalidArgumentError is a malformed request (missing field, bad base64, no extension, ...).
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExtractionError wraps a text extraction failure. Extraction is deterministic, so it is never retried.
type ExtractionError struct {
	Extension string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract text from %q file: %v", e.Extension, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingErrorKind classifies an embedding failure.
type EmbeddingErrorKind string

const (
	EmbeddingRateLimited     EmbeddingErrorKind = "rate_limited"
	EmbeddingServerError     EmbeddingErrorKind = "server_error"
	EmbeddingTimeout         EmbeddingErrorKind = "timeout"
	EmbeddingConnectionError EmbeddingErrorKind = "connection_error"
	EmbeddingAuthError       EmbeddingErrorKind = "auth_error"
	EmbeddingMalformed       EmbeddingErrorKind = "malformed"
)

// Retryable reports whether another attempt could succeed.
func (k EmbeddingErrorKind) Retryable() bool {
	switch k {
	case EmbeddingRateLimited, EmbeddingServerError, EmbeddingTimeout, EmbeddingConnectionError:
		return true
	}
	return false
}

// EmbeddingError is a classified embedding failure, returned after retries are exhausted
// or immediately for non-retryable kinds.
type EmbeddingError struct {
	Kind       EmbeddingErrorKind
	Provider   string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s (%s, %d attempt(s)): %v", e.Kind, e.Provider, e.Attempts, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Message is the operator-facing explanation of the failure.
func (e *EmbeddingError) Message() string {
	switch e.Kind {
	case EmbeddingRateLimited:
		return "The embedding provider is rate limiting requests. Try again later or lower EMBED_RATE_LIMIT."
	case EmbeddingServerError:
		return "The embedding provider returned a server error. Try again later."
	case EmbeddingTimeout:
		return "The embedding provider did not answer in time. Try again later or raise EMBED_TIMEOUT."
	case EmbeddingConnectionError:
		return "Could not connect to the embedding provider. Check network access and the provider URL, then try again."
	case EmbeddingAuthError:
		return "The embedding provider rejected the credentials. Check the configured API key."
	case EmbeddingMalformed:
		return "The embedding provider rejected the request or returned an unexpected response. Check the model and EMBED_DIM settings."
	}
	return "Embedding failed."
}

// StoreError is an underlying persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// KindOf maps an error chain to its machine-checkable kind.
func KindOf(err error) string {
	var (
		cfgErr  *ConfigurationError
		authErr *AuthenticationError
		nfErr   *NotFoundError
		argErr  *InvalidArgumentError
		extErr  *ExtractionError
		embErr  *EmbeddingError
		stErr   *StoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &authErr):
		return KindAuthentication
	case errors.As(err, &nfErr):
		return KindNotFound
	case errors.As(err, &argErr):
		return KindInvalidArgument
	case errors.As(err, &extErr):
		return KindExtraction
	case errors.As(err, &embErr):
		return KindEmbedding
	case errors.As(err, &stErr):
		return KindStore
	}
	return KindInternal
}

// UserMessage returns a human-readable message for err. Embedding failures carry their
// sub-kind so "retry later" and "fix the credentials" are distinguishable without logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return fmt.Sprintf("%s [%s] (%v)", embErr.Message(), embErr.Kind, embErr.Err)
	}
	return err.Error()
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}
