package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"configuration", &ConfigurationError{Key: "DATABASE_URL", Reason: "is required"}, KindConfiguration},
		{"authentication", &AuthenticationError{Reason: "missing identity"}, KindAuthentication},
		{"wrapped not found", fmt.Errorf("list files: %w", &NotFoundError{Resource: "knowledge set", ID: "x"}), KindNotFound},
		{"invalid argument", &InvalidArgumentError{Field: "filename", Reason: "no extension"}, KindInvalidArgument},
		{"extraction", &ExtractionError{Extension: ".pdf", Err: errors.New("corrupt")}, KindExtraction},
		{"embedding", &EmbeddingError{Kind: EmbeddingTimeout, Err: errors.New("deadline")}, KindEmbedding},
		{"store", &StoreError{Op: "create file", Err: errors.New("conn reset")}, KindStore},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestEmbeddingErrorKindRetryable(t *testing.T) {
	retryable := []EmbeddingErrorKind{EmbeddingRateLimited, EmbeddingServerError, EmbeddingTimeout, EmbeddingConnectionError}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), k)
	}
	assert.False(t, EmbeddingAuthError.Retryable())
	assert.False(t, EmbeddingMalformed.Retryable())
}

func TestUserMessageDistinguishesEmbeddingKinds(t *testing.T) {
	rate := fmt.Errorf("ingest: %w", &EmbeddingError{Kind: EmbeddingRateLimited, Err: errors.New("429")})
	auth := &EmbeddingError{Kind: EmbeddingAuthError, Err: errors.New("401")}

	assert.Contains(t, UserMessage(rate), "Try again later")
	assert.Contains(t, UserMessage(rate), "rate_limited")
	assert.Contains(t, UserMessage(auth), "API key")
	assert.NotEqual(t, UserMessage(rate), UserMessage(auth))

	assert.Equal(t, `knowledge set "x" not found`, UserMessage(&NotFoundError{Resource: "knowledge set", ID: "x"}))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", &NotFoundError{Resource: "file", ID: "f"})))
}
