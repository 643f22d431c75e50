package detect

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectKey(t *testing.T) {
	assert.Equal(t, "org", Subject{}.Key())
	assert.Equal(t, "user=u1", Subject{UserID: "u1"}.Key())
	assert.Equal(t, "user=u1;document=d1;ip=1.2.3.4", Subject{UserID: "u1", DocumentID: "d1", IPAddress: "1.2.3.4"}.Key())
}

func TestHourRangeSpans(t *testing.T) {
	night := &HourRange{From: 0, To: 6}

	tests := []struct {
		name     string
		from, to time.Time
		want     [][2]time.Time
	}{
		{
			name: "inside",
			from: time.Date(2026, 4, 7, 2, 0, 0, 0, time.UTC),
			to:   time.Date(2026, 4, 7, 3, 0, 0, 0, time.UTC),
			want: [][2]time.Time{{
				time.Date(2026, 4, 7, 2, 0, 0, 0, time.UTC),
				time.Date(2026, 4, 7, 3, 0, 0, 0, time.UTC),
			}},
		},
		{
			name: "clipped at six",
			from: time.Date(2026, 4, 7, 5, 40, 0, 0, time.UTC),
			to:   time.Date(2026, 4, 7, 6, 10, 0, 0, time.UTC),
			want: [][2]time.Time{{
				time.Date(2026, 4, 7, 5, 40, 0, 0, time.UTC),
				time.Date(2026, 4, 7, 6, 0, 0, 0, time.UTC),
			}},
		},
		{
			name: "daytime",
			from: time.Date(2026, 4, 7, 11, 0, 0, 0, time.UTC),
			to:   time.Date(2026, 4, 7, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "across midnight",
			from: time.Date(2026, 4, 6, 23, 30, 0, 0, time.UTC),
			to:   time.Date(2026, 4, 7, 0, 30, 0, 0, time.UTC),
			want: [][2]time.Time{{
				time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 4, 7, 0, 30, 0, 0, time.UTC),
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := night.spans(tt.from, tt.to)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.True(t, got[i][0].Equal(tt.want[i][0]), "start %v", got[i][0])
				assert.True(t, got[i][1].Equal(tt.want[i][1]), "end %v", got[i][1])
			}
		})
	}
}

func TestHourRangeSpans_Location(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	night := &HourRange{From: 0, To: 6, Location: loc}
	// 03:00-04:00 UTC is 05:00-06:00 local.
	got := night.spans(time.Date(2026, 4, 7, 3, 0, 0, 0, time.UTC), time.Date(2026, 4, 7, 5, 0, 0, 0, time.UTC))
	require.Len(t, got, 1)
	assert.True(t, got[0][1].Equal(time.Date(2026, 4, 7, 4, 0, 0, 0, time.UTC)))
}

func TestHourRangeSpans_DaylightSaving(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	night := &HourRange{From: 0, To: 6, Location: rome}

	// Clocks go forward on 2026-03-29, so 06:00 local is 04:00 UTC.
	got := night.spans(time.Date(2026, 3, 29, 3, 30, 0, 0, time.UTC), time.Date(2026, 3, 29, 5, 30, 0, 0, time.UTC))
	require.Len(t, got, 1)
	assert.True(t, got[0][0].Equal(time.Date(2026, 3, 29, 3, 30, 0, 0, time.UTC)))
	assert.True(t, got[0][1].Equal(time.Date(2026, 3, 29, 4, 0, 0, 0, time.UTC)), "end %v", got[0][1])

	assert.Empty(t, night.spans(time.Date(2026, 3, 29, 4, 30, 0, 0, time.UTC), time.Date(2026, 3, 29, 5, 30, 0, 0, time.UTC)))

	// Clocks go back on 2026-10-25, so 06:00 local is 05:00 UTC.
	got = night.spans(time.Date(2026, 10, 25, 4, 30, 0, 0, time.UTC), time.Date(2026, 10, 25, 5, 30, 0, 0, time.UTC))
	require.Len(t, got, 1)
	assert.True(t, got[0][1].Equal(time.Date(2026, 10, 25, 5, 0, 0, 0, time.UTC)), "end %v", got[0][1])
}
