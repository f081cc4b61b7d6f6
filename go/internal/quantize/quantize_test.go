package quantize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApproximate(t *testing.T) {
	tests := []struct {
		raw  int
		want int
	}{
		{0, 0},
		{1, 10},
		{7, 10},
		{10, 10},
		{11, 10},
		{15, 20},
		{23, 20},
		{47, 50},
		{50, 50},
		{51, 50},
		{63, 75},
		{120, 125},
		{200, 200},
		{224, 200},
		{225, 250},
		{430, 450},
		{500, 500},
		{549, 500},
		{550, 600},
		{650, 700},
		{1249, 1200},
		{-3, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Approximate(tt.raw), "Approximate(%d)", tt.raw)
	}
}

func TestApproximateMonotonic(t *testing.T) {
	prev := Approximate(0)
	for raw := 1; raw <= 5000; raw++ {
		got := Approximate(raw)
		if got < prev {
			t.Fatalf("Approximate(%d)=%d is below Approximate(%d)=%d", raw, got, raw-1, prev)
		}
		prev = got
	}
}

func TestApproximateIsMultipleOfGranularity(t *testing.T) {
	for raw := 1; raw <= 5000; raw++ {
		got := Approximate(raw)
		assert.Zero(t, got%Granularity(raw), "Approximate(%d)=%d", raw, got)
	}
}
