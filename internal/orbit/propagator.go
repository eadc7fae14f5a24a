// Package orbit maintains the spacecraft state vector: a two-body
// Keplerian propagator advances position and velocity under Earth
// gravity, impulsive maneuvers add to velocity and consume fuel, and a
// region classifier reports which radiation zone the spacecraft
// presently occupies. See spec.md §4.5.
package orbit

import (
	"math"
	"time"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// GM is Earth's standard gravitational parameter, m^3/s^2.
const GM = 3.986004418e14

// EarthRadius is the mean equatorial radius in meters.
const EarthRadius = 6378137.0

// Region classifies the present radiation environment, per spec.md §4.5.
type Region int

const (
	RegionNominal Region = iota
	RegionInnerBelt
	RegionOuterBelt
	RegionSAA
)

func (r Region) String() string {
	switch r {
	case RegionNominal:
		return "nominal"
	case RegionInnerBelt:
		return "inner-belt"
	case RegionOuterBelt:
		return "outer-belt"
	case RegionSAA:
		return "saa"
	default:
		return "unknown"
	}
}

// Classification thresholds. Altitude bands approximate the real inner
// and outer Van Allen belts; the SAA is modeled as a patch of reduced
// geomagnetic field strength over the South Atlantic, here approximated
// by a longitude/latitude box at low altitude.
const (
	innerBeltMinAlt = 1_000_000.0  // 1,000 km
	innerBeltMaxAlt = 6_000_000.0  // 6,000 km
	outerBeltMinAlt = 13_000_000.0 // 13,000 km
	outerBeltMaxAlt = 25_000_000.0 // 25,000 km

	saaMaxAlt    = 1_000_000.0 // SAA only matters at low altitude
	saaLatMinDeg = -50.0
	saaLatMaxDeg = -5.0
	saaLonMinDeg = -90.0
	saaLonMaxDeg = 0.0
)

// State is the full propagated spacecraft state: position and velocity
// in an Earth-centered inertial frame, an epoch, and remaining fuel
// expressed as available delta-v budget in m/s.
type State struct {
	Position Vec3
	Velocity Vec3
	Epoch    time.Time
	FuelMps  float64 // remaining delta-v budget, m/s
}

// Energy returns the specific orbital energy (vis-viva), which is
// conserved by the two-body propagator absent maneuvers. Used to assert
// the energy-conservation invariant in spec.md §3.
func (s State) Energy() float64 {
	r := s.Position.Norm()
	v := s.Velocity.Norm()
	return 0.5*v*v - GM/r
}

// Altitude returns height above the mean equatorial radius, in meters.
func (s State) Altitude() float64 {
	return s.Position.Norm() - EarthRadius
}

// Classify reports the radiation region for the current state.
func (s State) Classify() Region {
	alt := s.Altitude()

	if alt >= innerBeltMinAlt && alt <= innerBeltMaxAlt {
		return RegionInnerBelt
	}
	if alt >= outerBeltMinAlt && alt <= outerBeltMaxAlt {
		return RegionOuterBelt
	}
	if alt <= saaMaxAlt {
		lat, lon := s.geodeticDeg()
		if lat >= saaLatMinDeg && lat <= saaLatMaxDeg && lon >= saaLonMinDeg && lon <= saaLonMaxDeg {
			return RegionSAA
		}
	}
	return RegionNominal
}

// geodeticDeg computes a spherical-Earth latitude/longitude in degrees
// from the ECI position. This ignores Earth's rotation (no sidereal time
// correction), which is acceptable for SAA-box classification purposes.
func (s State) geodeticDeg() (latDeg, lonDeg float64) {
	p := s.Position
	r := p.Norm()
	if r == 0 {
		return 0, 0
	}
	lat := math.Asin(p.Z / r)
	lon := math.Atan2(p.Y, p.X)
	return lat * 180 / math.Pi, lon * 180 / math.Pi
}

// Propagator advances a State deterministically: given the same initial
// state, command sequence, and tick schedule, it always produces the
// same trajectory (spec.md §4.5 "Determinism").
type Propagator struct {
	state State
}

// NewPropagator starts a propagator from the given initial state.
func NewPropagator(initial State) *Propagator {
	return &Propagator{state: initial}
}

// State returns a copy of the current state vector.
func (p *Propagator) State() State {
	return p.state
}

// Tick advances the state by dt using classical RK4 integration of the
// two-body equations of motion. dt must be positive.
func (p *Propagator) Tick(dt time.Duration) {
	h := dt.Seconds()
	if h <= 0 {
		return
	}

	type deriv struct {
		dPos Vec3
		dVel Vec3
	}
	accel := func(pos Vec3) Vec3 {
		r := pos.Norm()
		k := -GM / (r * r * r)
		return pos.Scale(k)
	}
	f := func(pos, vel Vec3) deriv {
		return deriv{dPos: vel, dVel: accel(pos)}
	}

	pos0, vel0 := p.state.Position, p.state.Velocity

	k1 := f(pos0, vel0)
	k2 := f(pos0.Add(k1.dPos.Scale(h/2)), vel0.Add(k1.dVel.Scale(h/2)))
	k3 := f(pos0.Add(k2.dPos.Scale(h/2)), vel0.Add(k2.dVel.Scale(h/2)))
	k4 := f(pos0.Add(k3.dPos.Scale(h)), vel0.Add(k3.dVel.Scale(h)))

	dPos := k1.dPos.Add(k2.dPos.Scale(2)).Add(k3.dPos.Scale(2)).Add(k4.dPos).Scale(h / 6)
	dVel := k1.dVel.Add(k2.dVel.Scale(2)).Add(k3.dVel.Scale(2)).Add(k4.dVel).Scale(h / 6)

	p.state.Position = pos0.Add(dPos)
	p.state.Velocity = vel0.Add(dVel)
	p.state.Epoch = p.state.Epoch.Add(dt)
}

// ApplyManeuver adds an impulsive delta-v to the velocity and subtracts
// fuel proportional to its magnitude. Returns errs.ErrFuelExhausted if
// insufficient fuel remains, or errs.ErrCommandInvalid if deltaV contains
// a NaN or infinite component.
func (p *Propagator) ApplyManeuver(deltaV Vec3) error {
	if !finite(deltaV.X) || !finite(deltaV.Y) || !finite(deltaV.Z) {
		return errs.ErrCommandInvalid
	}
	cost := deltaV.Norm()
	if cost > p.state.FuelMps {
		return errs.ErrFuelExhausted
	}
	p.state.Velocity = p.state.Velocity.Add(deltaV)
	p.state.FuelMps -= cost
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
