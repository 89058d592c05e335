package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrack_IsAvailableInMarket(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		markets    []string
		isPlayable *bool
		market     string
		expected   bool
	}{
		{
			name:     "available in market using markets list",
			markets:  []string{"JP", "US", "UK"},
			market:   "JP",
			expected: true,
		},
		{
			name:     "not available in market using markets list",
			markets:  []string{"US", "UK"},
			market:   "JP",
			expected: false,
		},
		{
			name:       "isPlayable true takes precedence",
			markets:    []string{"US"},
			isPlayable: &trueVal,
			market:     "JP",
			expected:   true,
		},
		{
			name:       "isPlayable false takes precedence",
			markets:    []string{"JP", "US"},
			isPlayable: &falseVal,
			market:     "JP",
			expected:   false,
		},
		{
			name:     "case sensitivity",
			markets:  []string{"jp"},
			market:   "JP",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track := &Track{
				ID:         "test-id",
				Markets:    tt.markets,
				IsPlayable: tt.isPlayable,
			}

			assert.Equal(t, tt.expected, track.IsAvailableInMarket(tt.market))
		})
	}
}

func TestNew_DefaultsDurationAndFeatures(t *testing.T) {
	tr := New("id1", "Song", []string{"A", "B"}, "Album", 0, "spotify:track:id1")

	assert.Equal(t, DefaultDuration, tr.Duration)
	assert.Equal(t, 180, tr.Seconds())
	assert.Equal(t, "A, B", tr.Artist)
	assert.Equal(t, DefaultFeature, tr.Energy)
	assert.Equal(t, DefaultFeature, tr.Danceability)
	assert.Equal(t, DefaultFeature, tr.Valence)
}

func TestTrack_Seconds(t *testing.T) {
	assert.Equal(t, 40, Track{Duration: 40*time.Second + 900*time.Millisecond}.Seconds())
	assert.Equal(t, 180, Track{}.Seconds())
}

func TestTrack_WithFeatures(t *testing.T) {
	base := New("id1", "Song", []string{"A"}, "Album", time.Minute, "uri")
	tuned := base.WithFeatures(Features{Energy: 0.9, Danceability: 0.1, Valence: 0.3, Tempo: 128})

	assert.Equal(t, 0.9, tuned.Energy)
	assert.Equal(t, 128.0, tuned.Features().Tempo)
	assert.Equal(t, DefaultFeature, base.Energy, "original must not change")
}

func TestDedupe(t *testing.T) {
	tracks := []Track{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "seed"}, {ID: ""}, {ID: "c"}}

	result := Dedupe(tracks, "seed")

	assert.Equal(t, []string{"a", "b", "c"}, IDs(result))
}
