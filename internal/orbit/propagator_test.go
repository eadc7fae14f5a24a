package orbit

import (
	"math"
	"testing"
	"time"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/stretchr/testify/require"
)

func circularState(altitude float64) State {
	r := EarthRadius + altitude
	v := math.Sqrt(GM / r)
	return State{
		Position: Vec3{X: r, Y: 0, Z: 0},
		Velocity: Vec3{X: 0, Y: v, Z: 0},
		Epoch:    time.Unix(0, 0).UTC(),
		FuelMps:  500,
	}
}

func TestPropagatorConservesEnergyAbsentManeuvers(t *testing.T) {
	p := NewPropagator(circularState(500_000))
	e0 := p.State().Energy()

	for i := 0; i < 200; i++ {
		p.Tick(10 * time.Second)
	}

	e1 := p.State().Energy()
	rel := math.Abs((e1 - e0) / e0)
	require.Less(t, rel, 1e-6, "energy drifted by %v relative", rel)
}

func TestPropagatorDeterministic(t *testing.T) {
	init := circularState(500_000)
	commands := []Vec3{{X: 10}, {}, {Y: 5}, {}, {}}

	run := func() []State {
		p := NewPropagator(init)
		var trace []State
		for _, dv := range commands {
			if dv != (Vec3{}) {
				_ = p.ApplyManeuver(dv)
			}
			p.Tick(time.Second)
			trace = append(trace, p.State())
		}
		return trace
	}

	a, b := run(), run()
	require.Equal(t, len(a), len(b))
	for i := range a {
		require.Equal(t, a[i].Position, b[i].Position, "tick %d position diverged", i)
		require.Equal(t, a[i].Velocity, b[i].Velocity, "tick %d velocity diverged", i)
	}
}

func TestApplyManeuverProgradeRaisesApogee(t *testing.T) {
	p := NewPropagator(circularState(500_000))
	r0 := p.State().Position.Norm()

	require.NoError(t, p.ApplyManeuver(Vec3{Y: 100}))

	maxR := r0
	period := 2 * math.Pi * math.Sqrt(math.Pow(r0, 3)/GM)
	steps := int(period / 10)
	for i := 0; i < steps; i++ {
		p.Tick(10 * time.Second)
		if r := p.State().Position.Norm(); r > maxR {
			maxR = r
		}
	}

	require.Greater(t, maxR, r0, "apogee did not rise after prograde burn")
}

func TestApplyManeuverRejectsNaN(t *testing.T) {
	p := NewPropagator(circularState(500_000))
	err := p.ApplyManeuver(Vec3{X: math.NaN()})
	require.ErrorIs(t, err, errs.ErrCommandInvalid)
}

func TestApplyManeuverRejectsInsufficientFuel(t *testing.T) {
	p := NewPropagator(circularState(500_000))
	err := p.ApplyManeuver(Vec3{X: 10_000})
	require.ErrorIs(t, err, errs.ErrFuelExhausted)
}

func TestClassifyRegions(t *testing.T) {
	nominal := circularState(500_000)
	require.Equal(t, RegionNominal, nominal.Classify())

	belt := circularState(2_000_000)
	require.Equal(t, RegionInnerBelt, belt.Classify())

	outer := circularState(18_000_000)
	require.Equal(t, RegionOuterBelt, outer.Classify())
}
