package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageKind(t *testing.T) {
	tests := []struct {
		input   string
		want    ImageKind
		wantErr bool
	}{
		{"FACE", ImageKindFace, false},
		{"face", ImageKindFace, false},
		{" scene ", ImageKindScene, false},
		{"THUMB", ImageKindThumb, false},
		{"OBJECT", ImageKindObject, false},
		{"BODY", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseImageKind(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "ParseImageKind(%q)", tt.input)
			continue
		}
		require.NoError(t, err, "ParseImageKind(%q)", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewEventPicksFirstCandidate(t *testing.T) {
	score := 0.91
	candidates := []Candidate{
		{ID: 7, DisplayName: "Ada", SimilarityScore: &score},
		{ID: 9, DisplayName: "Grace"},
	}

	e := NewEvent("{abc}", time.Now(), "fr", candidates)
	require.NotNil(t, e.Candidate)
	assert.Equal(t, int64(7), *e.PersonID())
	assert.InDelta(t, 0.91, *e.Confidence(), 1e-9)

	// Mutating the input slice must not leak into the event
	candidates[0].ID = 100
	assert.Equal(t, int64(7), e.Candidate.ID)
}

func TestNewEventWithoutCandidates(t *testing.T) {
	e := NewEvent("id-1", time.Now(), "motion", nil)
	assert.Nil(t, e.Candidate)
	assert.Nil(t, e.PersonID())
	assert.Nil(t, e.Confidence())
}

func TestFileSafeID(t *testing.T) {
	e := &Event{ID: "{1F2E-33}"}
	assert.Equal(t, "1F2E-33", e.FileSafeID())
}

func TestParseTimestamp(t *testing.T) {
	t.Run("utc keeps the instant and zone", func(t *testing.T) {
		ts, err := ParseTimestamp("2023-05-04T10:11:12.345Z", TimeZoneUTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2023, 5, 4, 10, 11, 12, 345_000_000, time.UTC), ts)
		assert.Equal(t, time.UTC, ts.Location())
	})

	t.Run("local converts once", func(t *testing.T) {
		ts, err := ParseTimestamp("2023-05-04T10:11:12.345Z", TimeZoneLocal)
		require.NoError(t, err)
		assert.Equal(t, time.Local, ts.Location())
		assert.True(t, ts.Equal(time.Date(2023, 5, 4, 10, 11, 12, 345_000_000, time.UTC)))
	})

	t.Run("other fractional precision accepted", func(t *testing.T) {
		_, err := ParseTimestamp("2023-05-04T10:11:12.5Z", TimeZoneUTC)
		assert.NoError(t, err)
	})

	t.Run("garbage rejected", func(t *testing.T) {
		_, err := ParseTimestamp("yesterday", TimeZoneUTC)
		assert.Error(t, err)
	})
}

func TestWallClock(t *testing.T) {
	loc := time.FixedZone("X", 2*60*60)
	in := time.Date(2024, 1, 2, 3, 4, 5, 0, loc)

	got := TimeZoneUTC.WallClock(in)
	assert.Equal(t, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), got)
}

func TestParseTimeZone(t *testing.T) {
	z, err := ParseTimeZone("LOCAL")
	require.NoError(t, err)
	assert.Equal(t, TimeZoneLocal, z)

	z, err = ParseTimeZone("")
	require.NoError(t, err)
	assert.Equal(t, TimeZoneUTC, z)

	_, err = ParseTimeZone("mars")
	assert.Error(t, err)
}
