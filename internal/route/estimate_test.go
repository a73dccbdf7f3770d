package route

import (
	"testing"

	"walkingbus/internal/domain"
)

func TestEstimatorMinutes(t *testing.T) {
	est := DefaultEstimator()
	tests := []struct {
		distance int
		mode     domain.TravelMode
		want     int
	}{
		{0, domain.ModeWalking, 0},
		{-50, domain.ModeBiking, 0},
		{480, domain.ModeWalking, 10}, // 480 / 0.8 = 600s
		{1320, domain.ModeBiking, 10}, // 1320 / 2.2 = 600s
		{20, domain.ModeWalking, 0},   // 25s rounds down
		{30, domain.ModeWalking, 1},   // 37.5s rounds up
		{480, domain.TravelMode(""), 10},
	}
	for _, tt := range tests {
		if got := est.Minutes(tt.distance, tt.mode); got != tt.want {
			t.Errorf("Minutes(%d, %q) = %d, want %d", tt.distance, tt.mode, got, tt.want)
		}
	}
}

func TestEstimatorZeroSpeedsFallBack(t *testing.T) {
	var est Estimator
	if got := est.Minutes(480, domain.ModeWalking); got != 10 {
		t.Fatalf("zero estimator walking = %d", got)
	}
}
