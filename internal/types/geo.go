package types

import "fmt"

// gridResolution is the coordinate truncation step for forecast cache keys.
// 0.01 degrees is roughly 1 km, coarse enough that adjacent plots in the same
// yard share a single upstream forecast fetch.
const gridResolution = 0.01

// gridKey truncates a coordinate pair onto the forecast cache grid.
func gridKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f:%.2f", snap(lat), snap(lon))
}

func snap(v float64) float64 {
	steps := int64(v / gridResolution)
	return float64(steps) * gridResolution
}
