package route

import (
	"math"

	"walkingbus/internal/domain"
)

const (
	DefaultWalkingMPS = 0.8
	DefaultBikingMPS  = 2.2
)

// Estimator converts a distance into an advisory elapsed time.
type Estimator struct {
	WalkingMPS float64
	BikingMPS  float64
}

// DefaultEstimator uses typical escorted group speeds.
func DefaultEstimator() Estimator {
	return Estimator{WalkingMPS: DefaultWalkingMPS, BikingMPS: DefaultBikingMPS}
}

func (e Estimator) speed(mode domain.TravelMode) float64 {
	if mode == domain.ModeBiking {
		if e.BikingMPS > 0 {
			return e.BikingMPS
		}
		return DefaultBikingMPS
	}
	if e.WalkingMPS > 0 {
		return e.WalkingMPS
	}
	return DefaultWalkingMPS
}

// Minutes returns round(distance / speed / 60); non-positive distances yield 0.
func (e Estimator) Minutes(distanceMeters int, mode domain.TravelMode) int {
	if distanceMeters <= 0 {
		return 0
	}
	return int(math.Round(float64(distanceMeters) / e.speed(mode) / 60))
}
