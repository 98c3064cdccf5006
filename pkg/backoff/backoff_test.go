package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	limit := 2 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		want := min(base*time.Duration(1<<max(attempt-1, 0)), limit)
		for range 20 {
			got := ExponentialJitter(base, limit, attempt)
			assert.GreaterOrEqual(t, got, want-want/5, "attempt %d", attempt)
			assert.Less(t, got, want+want/5, "attempt %d", attempt)
		}
	}
}

func TestExponentialJitter_ZeroBase(t *testing.T) {
	assert.Zero(t, ExponentialJitter(0, time.Second, 3))
}
