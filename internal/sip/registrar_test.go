package sip

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffGrowthAndCap(t *testing.T) {
	b := newBackoff()

	// Nominal delays double from 2s and cap at 60s; jitter is ±20%.
	wantNominal := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for i, nominal := range wantNominal {
		got := b.next()
		lo := time.Duration(float64(nominal) * 0.79)
		hi := time.Duration(float64(nominal) * 1.21)
		if got < lo || got > hi {
			t.Errorf("attempt %d: delay = %v, want within [%v, %v]", i, got, lo, hi)
		}
	}

	b.reset()
	got := b.next()
	if got > 3*time.Second {
		t.Errorf("delay after reset = %v, want ~2s", got)
	}
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{errors.New("authentication rejected with status 403 Forbidden"), FailureAuth},
		{errors.New("parsing auth challenge: bad header"), FailureAuth},
		{errors.New("waiting for register response: context deadline exceeded"), FailureTimeout},
		{errors.New("sending register: connection refused"), FailureNetwork},
	}
	for _, tt := range tests {
		if got := classifyFailure(tt.err); got != tt.want {
			t.Errorf("classifyFailure(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	if shouldRetry(FailureAuth) {
		t.Error("shouldRetry(auth) = true, rejected credentials must stop the loop")
	}
	for _, kind := range []FailureKind{FailureNetwork, FailureTimeout} {
		if !shouldRetry(kind) {
			t.Errorf("shouldRetry(%q) = false, want retry with backoff", kind)
		}
	}
}

func TestParseContactExpires(t *testing.T) {
	tests := []struct {
		contact string
		want    int
	}{
		{"<sip:100@10.0.0.5:5060>;expires=3600", 3600},
		{"<sip:100@10.0.0.5>;q=0.5;expires=120;foo=bar", 120},
		{"<sip:100@10.0.0.5>;EXPIRES=60", 60},
		{"<sip:100@10.0.0.5>", 0},
		{"<sip:100@10.0.0.5>;expires=abc", 0},
	}

	for _, tt := range tests {
		if got := parseContactExpires(tt.contact); got != tt.want {
			t.Errorf("parseContactExpires(%q) = %d, want %d", tt.contact, got, tt.want)
		}
	}
}

func TestParseExpiresHeader(t *testing.T) {
	if got := parseExpiresHeader(" 300 "); got != 300 {
		t.Errorf("parseExpiresHeader(300) = %d, want 300", got)
	}
	if got := parseExpiresHeader("bogus"); got != 0 {
		t.Errorf("parseExpiresHeader(bogus) = %d, want 0", got)
	}
}
