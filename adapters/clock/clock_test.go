package clock_test

import (
	"testing"
	"time"

	"github.com/Pylons/pyramid-zcml/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	before := time.Now()
	got := clock.Real{}.Now()
	if got.Before(before) {
		t.Errorf("Now() = %v, expected after %v", got, before)
	}
}

func TestFake_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	now := clock.Func(c)
	c.Advance(90 * time.Second)
	if got := now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Func(fake)() = %v", got)
	}
}

func TestFunc_Nil(t *testing.T) {
	if clock.Func(nil)().IsZero() {
		t.Error("nil clock should fall back to the system clock")
	}
}
