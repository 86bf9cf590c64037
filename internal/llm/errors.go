package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/MLenaBleile/sandy/internal/errs"
)

// MapError classifies an error from an OpenAI-compatible endpoint into the
// error taxonomy. what names the operation for the message.
func MapError(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Retryable(errs.Timeout, what+" timed out", err)
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return errs.Retryable(errs.RateLimit, what+" rate limited", err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Fatal(errs.AuthError, what+" rejected credentials", err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return errs.Retryable(errs.Timeout, what+" timed out", err)
	case status >= 500:
		return errs.Retryable(errs.Network, what+" server error", err)
	case status > 0:
		return errs.Fatal(errs.ConfigError, what+" request rejected", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Retryable(errs.Timeout, what+" timed out", err)
	}
	return errs.Retryable(errs.Network, what+" connection failed", err)
}
