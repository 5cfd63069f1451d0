package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_Interval(t *testing.T) {
	tests := []struct {
		name     string
		schedule *Schedule
		want     time.Duration
	}{
		{name: "nil runs once", schedule: nil, want: 0},
		{name: "zero delay runs once", schedule: &Schedule{RepeatDelay: 0, Unit: time.Second}, want: 0},
		{name: "negative delay runs once", schedule: &Schedule{RepeatDelay: -5, Unit: time.Second}, want: 0},
		{name: "seconds", schedule: &Schedule{RepeatDelay: 30, Unit: time.Second}, want: 30 * time.Second},
		{name: "millis", schedule: &Schedule{RepeatDelay: 5000, Unit: time.Millisecond}, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Interval())
		})
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", expr: "", want: 0},
		{name: "once", expr: "@once", want: 0},
		{name: "go duration", expr: "90s", want: 90 * time.Second},
		{name: "zero duration", expr: "0s", want: 0},
		{name: "every descriptor", expr: "@every 5m", want: 5 * time.Minute},
		{name: "calendar cron rejected", expr: "0 */6 * * *", wantErr: true},
		{name: "garbage", expr: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Interval())
		})
	}
}

func TestSchedule_String(t *testing.T) {
	assert.Equal(t, "once", (*Schedule)(nil).String())
	assert.Equal(t, "@every 1m0s", Every(time.Minute).String())
}
