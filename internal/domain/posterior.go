package domain

// Posterior combines a prior with the current observation window.
// Ephemeral: recomputed every allocation cycle, never persisted
// independently of the arm it describes.
type Posterior struct {
	ArmID string

	// Conversion-rate posterior: Beta(CVRAlpha, CVRBeta)
	CVRAlpha float64
	CVRBeta  float64

	// Conversion-value posterior: Gamma(ValueShape, ValueRate)
	ValueShape float64
	ValueRate  float64
}

// MeanCVR returns the posterior's expected conversion rate.
func (p Posterior) MeanCVR() float64 {
	return p.CVRAlpha / (p.CVRAlpha + p.CVRBeta)
}
