package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusPending, JobStatusCrawling, true},
		{JobStatusCrawling, JobStatusComprehending, true},
		{JobStatusComprehending, JobStatusStoring, true},
		{JobStatusStoring, JobStatusComplete, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusStoring, JobStatusFailed, true},
		{JobStatusCrawling, JobStatusCrawling, true},
		{JobStatusPending, JobStatusStoring, false},
		{JobStatusCrawling, JobStatusComplete, false},
		{JobStatusComplete, JobStatusFailed, false},
		{JobStatusFailed, JobStatusComplete, false},
		{JobStatusFailed, JobStatusFailed, false},
	}
	for _, tt := range tests {
		require.Equalf(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
	require.True(t, JobStatusComplete.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.False(t, JobStatusStoring.Terminal())
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		input      string
		wantSeed   string
		wantDomain string
	}{
		{"bare domain", "Stripe.com", "https://stripe.com", "stripe.com"},
		{"www stripped", "https://www.Example.com/pricing#top", "https://www.example.com/pricing", "example.com"},
		{"http kept", "http://api.example.io", "http://api.example.io", "api.example.io"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			seed, domain, err := ParseTarget(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.wantSeed, seed)
			require.Equal(t, tt.wantDomain, domain)
		})
	}
}

func TestParseTargetRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "   ", "ftp://example.com", "https://"} {
		_, _, err := ParseTarget(input)
		require.Error(t, err, input)
		require.True(t, errors.Is(err, ErrInvalidURL), input)
	}
}

func TestHostMatches(t *testing.T) {
	t.Parallel()

	require.True(t, HostMatches("www.example.com", "example.com"))
	require.True(t, HostMatches("docs.example.com", "example.com"))
	require.False(t, HostMatches("notexample.com", "example.com"))
	require.False(t, HostMatches("", "example.com"))
}
