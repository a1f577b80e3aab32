package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"doppel/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "voice", "submit", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"voice", "submit", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "avatar", "submit", "no marker", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected nil marker to default to transient, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected services.Classification
	}{
		{"nil", nil, services.ClassFatal},
		{"transient marker", services.Wrap(services.ErrTransient, "avatar", "submit", "rate limited", nil), services.ClassRetryable},
		{"fatal marker", services.Wrap(services.ErrFatal, "avatar", "submit", "rejected", nil), services.ClassFatal},
		{"validation marker", services.Wrap(services.ErrValidation, "video", "submit", "bad script", nil), services.ClassFatal},
		{"timeout marker", services.Wrap(services.ErrTimeout, "voice", "poll", "budget exhausted", nil), services.ClassFatal},
		{"deadline exceeded", context.DeadlineExceeded, services.ClassRetryable},
		{"unmarked", errors.New("surprise"), services.ClassFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.expected {
				t.Fatalf("Classify(%v) = %v, expected %v", tc.err, got, tc.expected)
			}
		})
	}
}

func TestFailureReasonStripsMarker(t *testing.T) {
	err := services.Wrap(services.ErrFatal, "video", "submit", "provider rejected script", nil)
	reason := services.FailureReason(err)
	if strings.Contains(reason, services.ErrFatal.Error()) {
		t.Fatalf("expected marker stripped from reason, got %q", reason)
	}
	if !strings.Contains(reason, "provider rejected script") {
		t.Fatalf("expected detail retained in reason, got %q", reason)
	}
}

func TestIsTimeout(t *testing.T) {
	if !services.IsTimeout(services.Wrap(services.ErrTimeout, "video", "poll", "gave up", nil)) {
		t.Fatal("expected timeout marker to be detected")
	}
	if services.IsTimeout(errors.New("other")) {
		t.Fatal("expected non-timeout error to report false")
	}
}
