package api

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestIPRateLimiterRefillsAndEvicts(t *testing.T) {
	is := is.New(t)

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newIPRateLimiter(1, 2)
	l.now = func() time.Time { return clock }

	is.True(l.allow("192.0.2.1"))
	is.True(l.allow("192.0.2.1"))
	is.True(!l.allow("192.0.2.1")) // burst spent
	is.True(l.allow("192.0.2.2"))  // other clients have their own bucket

	clock = clock.Add(time.Second)
	is.True(l.allow("192.0.2.1")) // one token back after a second

	clock = clock.Add(5 * time.Minute)
	l.allow("192.0.2.3")
	is.Equal(len(l.clients), 1) // idle clients were swept
}
