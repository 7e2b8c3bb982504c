package limiter_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/parkerroan/msgrate/limiter"
)

func BenchmarkSlidingWindow(b *testing.B) {
	sw, err := limiter.NewSlidingWindow(time.Second, 10)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < b.N; i++ {
		sw.Record("user1")
	}
}

func BenchmarkSlidingWindow_ManyKeys(b *testing.B) {
	sw, err := limiter.NewSlidingWindow(time.Second, 10)
	if err != nil {
		b.Fatal(err)
	}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			sw.Record(strconv.Itoa(i % 1024))
			i++
		}
	})
}

func BenchmarkThrottle(b *testing.B) {
	th, err := limiter.NewThrottle(time.Second)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < b.N; i++ {
		th.Record("user1")
	}
}

func TestLimitDetails(t *testing.T) {
	size := 2
	window := 500 * time.Millisecond // a half of a second

	sw, err := limiter.NewSlidingWindow(window, size)
	if err != nil {
		t.Fatal(err)
	}
	actualSize, actualWindow := sw.LimitDetails()
	if actualSize != size || actualWindow != window {
		t.Errorf("Expected size: %d and window: %v, but got size: %d and window: %v", size, window, actualSize, actualWindow)
	}

	th, err := limiter.NewThrottle(window)
	if err != nil {
		t.Fatal(err)
	}
	actualSize, actualWindow = th.LimitDetails()
	if actualSize != 1 || actualWindow != window {
		t.Errorf("Expected size: 1 and window: %v, but got size: %d and window: %v", window, actualSize, actualWindow)
	}
}
