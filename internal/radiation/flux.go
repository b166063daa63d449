package radiation

import "math"

// StefanBoltzmann is σ in W/(m²·K⁴).
const StefanBoltzmann = 5.670374419e-8

// NetFlux returns the net radiative power (W) sent from a source patch at
// ts to a destination at td over a link with the given view factor.
// Only the hotter side emits, so the result is zero unless ts > td.
func NetFlux(viewFactor, sourceArea, ts, td float64) float64 {
	if ts <= td {
		return 0
	}
	return viewFactor * StefanBoltzmann * sourceArea * (math.Pow(ts, 4) - math.Pow(td, 4))
}

// MeanTemperature averages temperatures. ok is false for an empty input.
func MeanTemperature(temperatures []float64) (mean float64, ok bool) {
	if len(temperatures) == 0 {
		return 0, false
	}
	var sum float64
	for _, t := range temperatures {
		sum += t
	}
	return sum / float64(len(temperatures)), true
}

// TemperatureDelta converts a net power applied over dt seconds to the
// temperature change of each of count voxels of the given material.
// volume is the volume of one voxel in m³.
func TemperatureDelta(qNet, dt float64, count int, density, specificHeat, volume float64) float64 {
	if count == 0 || density <= 0 || specificHeat <= 0 || volume <= 0 {
		return 0
	}
	return qNet * dt / (float64(count) * density * volume * specificHeat)
}
