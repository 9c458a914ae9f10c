// Package emissions turns resolved carbon intensities and an energy
// measurement into grams of CO2 equivalent.
package emissions

import (
	"errors"
	"fmt"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/intensity"
)

// KWhPerJoule converts joules to kilowatt-hours
const KWhPerJoule = 2.77777778e-7

var errNegativeEnergy = errors.New("energy measurement cannot be negative")

// KWh converts joules to kilowatt-hours
func KWh(joules float64) float64 {
	return joules * KWhPerJoule
}

// Grams returns the emissions in gCO2eq of joules consumed while the grid
// ran at the mean of the given intensities
func Grams(intensities []intensity.CarbonIntensity, joules float64) (float64, error) {
	if joules < 0 {
		return 0, errNegativeEnergy
	}

	mean, err := meanIntensity(intensities)
	if err != nil {
		return 0, err
	}
	return mean * KWh(joules), nil
}

func meanIntensity(intensities []intensity.CarbonIntensity) (float64, error) {
	values := make([]float64, 0, len(intensities))
	for _, ci := range intensities {
		values = append(values, ci.CarbonIntensity)
	}
	mean, err := intensity.Mean(values)
	if err != nil {
		return 0, fmt.Errorf("no carbon intensity to apply: %w", err)
	}
	return mean, nil
}
