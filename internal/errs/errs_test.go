package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	cause := errors.New("connection reset")
	tests := []struct {
		name      string
		err       error
		retryable bool
		fatal     bool
		reason    Reason
	}{
		{"retryable", Retryable(Network, "chat call", cause), true, false, Network},
		{"wrapped retryable", fmt.Errorf("identify: %w", Retryable(RateLimit, "429", nil)), true, false, RateLimit},
		{"fatal", Fatal(AuthError, "bad key", nil), false, true, AuthError},
		{"wrapped fatal", fmt.Errorf("store: %w", Fatal(DatabaseDown, "open", cause)), false, true, DatabaseDown},
		{"content", Content(TooShort, "10 chars"), false, false, TooShort},
		{"plain", cause, false, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := ReasonOf(tt.err); got != tt.reason {
				t.Errorf("ReasonOf = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestParseErrorCarriesRawOutput(t *testing.T) {
	err := fmt.Errorf("assemble: %w", Parse("no JSON object", "I think the answer is bread"))
	pe, ok := AsParse(err)
	if !ok {
		t.Fatal("expected ParseError in chain")
	}
	if pe.RawOutput != "I think the answer is bread" {
		t.Errorf("RawOutput = %q", pe.RawOutput)
	}
}

func TestUnwrapCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Retryable(Network, "embed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}
	if err.Error() != "retryable (network): embed: dial tcp: refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}
