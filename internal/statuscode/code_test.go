package statuscode

import (
	"errors"
	"fmt"
	"testing"
)

func TestLookupKnownCode(t *testing.T) {
	m := Lookup(RateLimited)
	if !m.Retryable {
		t.Fatalf("expected RateLimited to be retryable")
	}
	if m.Category != CategoryResource {
		t.Fatalf("expected RateLimited category Resource, got %s", m.Category)
	}
}

func TestLookupUnknownCodeFallsBackToUnknown(t *testing.T) {
	m := Lookup(Code(99999))
	if m.Name != "Unknown" {
		t.Fatalf("expected fallback to Unknown metadata, got %+v", m)
	}
}

func TestCodedErrorIsAndFrom(t *testing.T) {
	base := errors.New("boom")
	ce := New(ProviderError, "provider:anthropic", "upstream failed", base)

	if !Is(ce, ProviderError) {
		t.Fatalf("expected Is to match ProviderError")
	}
	if From(ce) != ProviderError {
		t.Fatalf("expected From to recover ProviderError")
	}
	if !errors.Is(ce, ce) {
		t.Fatalf("expected self-identity via errors.Is")
	}

	wrapped := fmt.Errorf("wrapping: %w", ce)
	if !Is(wrapped, ProviderError) {
		t.Fatalf("expected Is to see through fmt.Errorf wrapping")
	}
}

func TestClassifyHeuristics(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{errors.New("context deadline exceeded"), DeadlineExceeded},
		{errors.New("request timed out"), Timeout},
		{errors.New("429 rate limit exceeded"), RateLimited},
		{errors.New("dial tcp: connection refused"), ConnectionFailed},
		{errors.New("403 forbidden"), PermissionDenied},
		{errors.New("missing required field: name"), InvalidArguments},
		{errors.New("something unexpected"), Internal},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestClassifyNilIsSuccess(t *testing.T) {
	if Classify(nil) != Success {
		t.Fatalf("expected Classify(nil) == Success")
	}
	if From(nil) != Success {
		t.Fatalf("expected From(nil) == Success")
	}
}
