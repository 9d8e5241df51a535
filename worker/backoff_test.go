package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute}, // clamped to first attempt
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 16 * time.Minute},
		{7, time.Hour}, // 64m capped
		{20, time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, retryDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}
