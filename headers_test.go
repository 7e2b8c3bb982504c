package msgrate

import (
	"testing"
	"time"

	"github.com/parkerroan/msgrate/limiter"
	"github.com/stretchr/testify/assert"
)

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, int64(0), ceilSeconds(0))
	assert.Equal(t, int64(0), ceilSeconds(-time.Second))
	assert.Equal(t, int64(1), ceilSeconds(time.Nanosecond))
	assert.Equal(t, int64(1), ceilSeconds(time.Second))
	assert.Equal(t, int64(9), ceilSeconds(8500*time.Millisecond))
	assert.Equal(t, int64(9223372036), ceilSeconds(limiter.Never))
}
