// Package bandit implements the per-fuzzer Beta-Bernoulli bandit arm
// driving Thompson-sample selection: success/failure counts, an adaptive
// productivity threshold theta, and cumulative runtime bookkeeping.
package bandit

import (
	"math"
	"math/rand"
)

// ThetaFloor is the minimum value theta may take. Theta halves on failure
// and must never reach zero, or the doubling/halving relationship stops
// being reversible.
const ThetaFloor = 1e-6

// Arm tracks one fuzzer's bandit state. The zero value is not usable;
// construct with NewArm.
type Arm struct {
	S, F          int
	Theta         float64
	TotalRuntime  float64
	Diff          float64
	consecFail    int
	rnd           *rand.Rand
}

// NewArm creates an arm with the given initial threshold and static
// per-fuzzer difficulty constant.
func NewArm(thetaInit, diff float64, seed int64) *Arm {
	return &Arm{
		Theta: thetaInit,
		Diff:  diff,
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// Sample draws from Beta(S+1, F+1).
func (a *Arm) Sample() float64 {
	return sampleBeta(float64(a.S+1), float64(a.F+1), a.rnd.Float64, a.rnd.NormFloat64)
}

// Record registers one trial outcome, adjusting S/F and doubling or
// halving Theta. Theta is floored above zero.
func (a *Arm) Record(success bool) {
	if success {
		a.S++
		a.Theta *= 2
		a.consecFail = 0
	} else {
		a.F++
		a.Theta = math.Max(a.Theta/2, ThetaFloor)
		a.consecFail++
	}
}

// AddRuntime accumulates wall-clock seconds this arm's fuzzer has run for.
func (a *Arm) AddRuntime(seconds float64) {
	a.TotalRuntime += seconds
}

// ConsecutiveFailures returns the number of Record(false) calls since the
// last Record(true), across every phase the arm has been recorded in.
func (a *Arm) ConsecutiveFailures() int {
	return a.consecFail
}

// ResetTheta sets Theta back to a fixed value, used at the start of the
// explore phase where every arm's threshold is reset to the configured
// global default.
func (a *Arm) ResetTheta(theta float64) {
	a.Theta = theta
}
