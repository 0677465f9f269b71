package bandit

import "math"

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang method.
// No gamma/beta distribution exists in the dependency set this project
// draws from, so the sampler is hand-rolled; it is core algorithmic work
// named directly by the Thompson-sampling selection rule, not an ambient
// concern.
func sampleGamma(shape float64, rnd func() float64, normal func() float64) float64 {
	if shape < 1 {
		// Boost via Gamma(shape+1,1) * U^(1/shape), Stuart's identity.
		g := sampleGamma(shape+1, rnd, normal)
		u := rnd()
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		return g * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)

	for {
		x := normal()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rnd()
		x2 := x * x
		if u < 1-0.0331*x2*x2 {
			return d * v
		}
		if math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// sampleBeta draws from Beta(alpha, beta) via two independent Gamma draws.
func sampleBeta(alpha, betaParam float64, rnd func() float64, normal func() float64) float64 {
	x := sampleGamma(alpha, rnd, normal)
	y := sampleGamma(betaParam, rnd, normal)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}
