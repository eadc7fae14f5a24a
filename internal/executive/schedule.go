package executive

import (
	"math"
	"math/rand"

	"github.com/radsat-ctf/radsat/internal/orbit"
)

// RegionRate gives the per-tick bit-error rate lambda(region), per
// spec.md §4.4: "In nominal regions lambda ~= 0; inside the inner belt
// lambda is tuned so that, over an exploit-realistic dwell time, the
// probability of at least one bit-flip inside the unprotected region
// reaches exploit-feasible levels."
type RegionRate map[orbit.Region]float64

// DefaultRegionRate is tuned so a sustained pass through the inner belt
// or the SAA gives roughly a few-tens-of-percent chance of at least one
// flip landing in a small (tens of bytes) unprotected region over a
// realistic dwell of a few dozen ticks, while nominal space is
// essentially silent and the outer belt is a middling-severity zone.
var DefaultRegionRate = RegionRate{
	orbit.RegionNominal:   0.0005,
	orbit.RegionInnerBelt: 0.15,
	orbit.RegionOuterBelt: 0.05,
	orbit.RegionSAA:       0.2,
}

// poissonSample draws from a Poisson distribution with mean lambda
// using Knuth's algorithm. Fine for the small lambdas RADSAT uses;
// nothing in the example pack carries a statistics library (gonum does
// not appear in any go.mod in _examples), so this is the grounded
// stdlib choice — math/rand is what every pack repo reaches for when it
// needs randomness at all.
func poissonSample(rng *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}

// Flip describes one single-event upset: the byte offset within the
// firmware's RAM and which bit to toggle.
type Flip struct {
	Offset int
	Bit    uint
}

// PlanFlips draws a Poisson number of flips for the given region and
// picks, for each, a uniformly random byte and bit within [0, ramLen).
// spec.md §4.4: "No awareness of protected vs unprotected structure —
// that asymmetry is the exploit."
func PlanFlips(rng *rand.Rand, rates RegionRate, region orbit.Region, ramLen int) []Flip {
	if ramLen <= 0 {
		return nil
	}
	n := poissonSample(rng, rates[region])
	flips := make([]Flip, n)
	for i := 0; i < n; i++ {
		flips[i] = Flip{
			Offset: rng.Intn(ramLen),
			Bit:    uint(rng.Intn(8)),
		}
	}
	return flips
}
