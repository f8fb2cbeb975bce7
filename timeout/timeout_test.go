package timeout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/timeout"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []time.Duration{
		0,
		50 * time.Millisecond,
		10 * time.Second,
		3 * time.Minute,
		5 * time.Hour,
		750 * time.Nanosecond,
	}
	for _, d := range cases {
		wire := timeout.Encode(d)
		parsed, err := timeout.Parse(wire)
		if d <= 0 {
			require.NoError(t, err)
			require.Equal(t, int64(0), parsed.Micros())
			continue
		}
		require.NoError(t, err, wire)
		got, err := parsed.Duration()
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
}

func TestMicrosConversionTable(t *testing.T) {
	cases := []struct {
		t    timeout.Timeout
		want int64
	}{
		{timeout.Timeout{Value: 1, Unit: timeout.Hours}, 3600 * 1_000_000},
		{timeout.Timeout{Value: 1, Unit: timeout.Minutes}, 60 * 1_000_000},
		{timeout.Timeout{Value: 1, Unit: timeout.Seconds}, 1_000_000},
		{timeout.Timeout{Value: 1, Unit: timeout.Milliseconds}, 1_000},
		{timeout.Timeout{Value: 1, Unit: timeout.Microseconds}, 1},
		{timeout.Timeout{Value: 1, Unit: timeout.Nanoseconds}, 1}, // rounds up
		{timeout.Timeout{Value: 2500, Unit: timeout.Nanoseconds}, 3},
		{timeout.Timeout{Value: 0, Unit: timeout.Nanoseconds}, 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.t.Micros())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "5", "999999999S", "-5S", "5X", "abcS"} {
		_, err := timeout.Parse(bad)
		require.Error(t, err, bad)
	}
}

func TestParseEmptyIsNoTimeout(t *testing.T) {
	_, err := timeout.Parse("")
	require.ErrorIs(t, err, timeout.ErrNoTimeout)
}
