package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

// StatusError is a provider failure that only carries an HTTP status code.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

// classify maps a provider error to an embedding error kind and, when known, an HTTP status.
func classify(err error) (core.EmbeddingErrorKind, int) {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.EmbeddingTimeout, 0
	}

	if code := httpStatus(err); code != 0 {
		return kindForStatus(code), code
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return core.EmbeddingRateLimited, http.StatusTooManyRequests
		case codes.Unavailable, codes.Internal, codes.Aborted:
			return core.EmbeddingServerError, http.StatusServiceUnavailable
		case codes.DeadlineExceeded:
			return core.EmbeddingTimeout, http.StatusGatewayTimeout
		case codes.Unauthenticated, codes.PermissionDenied:
			return core.EmbeddingAuthError, http.StatusUnauthorized
		default:
			return core.EmbeddingMalformed, http.StatusBadRequest
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.EmbeddingTimeout, 0
		}
		return core.EmbeddingConnectionError, 0
	}

	return core.EmbeddingMalformed, 0
}

func httpStatus(err error) int {
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		stErr  *StatusError
	)
	switch {
	case errors.As(err, &stErr):
		return stErr.Code
	case errors.As(err, &apiErr):
		return apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		return reqErr.HTTPStatusCode
	}
	return 0
}

func kindForStatus(code int) core.EmbeddingErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return core.EmbeddingRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return core.EmbeddingTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return core.EmbeddingAuthError
	case code >= 500:
		return core.EmbeddingServerError
	}
	return core.EmbeddingMalformed
}
