package validity

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

// ConformationConfig holds the geometric limits and the repair budget.
type ConformationConfig struct {
	// MinSeparation is the smallest allowed intramolecular distance in Å.
	MinSeparation float64
	// BondMin and BondMax bound bonds that do not declare their own range.
	BondMin float64
	BondMax float64
	// PerturbAttempts is the number of Gaussian perturbation retries.
	PerturbAttempts int
	// PerturbSigma is the standard deviation of the perturbation in Å.
	PerturbSigma float64
	// MinimizeIterations caps the constrained minimization.
	MinimizeIterations int
}

// DefaultConformationConfig returns the standard limits.
func DefaultConformationConfig() ConformationConfig {
	return ConformationConfig{
		MinSeparation:      1.2,
		BondMin:            0.9,
		BondMax:            2.0,
		PerturbAttempts:    5,
		PerturbSigma:       0.2,
		MinimizeIterations: 200,
	}
}

// penaltyMargin pulls the minimization target slightly inside the valid
// region so a converged pose passes the strict checks.
const penaltyMargin = 0.05

// ConformationValidator checks intramolecular geometry and repairs poses
// that violate it.
type ConformationValidator struct {
	cfg    ConformationConfig
	logger *zap.Logger
}

// NewConformationValidator fills unset fields of cfg from
// DefaultConformationConfig.
func NewConformationValidator(cfg ConformationConfig, logger *zap.Logger) *ConformationValidator {
	def := DefaultConformationConfig()
	if cfg.MinSeparation <= 0 {
		cfg.MinSeparation = def.MinSeparation
	}
	if cfg.BondMin <= 0 {
		cfg.BondMin = def.BondMin
	}
	if cfg.BondMax <= 0 {
		cfg.BondMax = def.BondMax
	}
	if cfg.PerturbAttempts < 1 {
		cfg.PerturbAttempts = def.PerturbAttempts
	}
	if cfg.PerturbSigma <= 0 {
		cfg.PerturbSigma = def.PerturbSigma
	}
	if cfg.MinimizeIterations < 1 {
		cfg.MinimizeIterations = def.MinimizeIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConformationValidator{cfg: cfg, logger: logger.Named("conformation")}
}

func (v *ConformationValidator) bondRange(b docking.Bond) (lo, hi float64) {
	lo, hi = v.cfg.BondMin, v.cfg.BondMax
	if b.MinLength > 0 {
		lo = b.MinLength
	}
	if b.MaxLength > 0 {
		hi = b.MaxLength
	}
	return lo, hi
}

// Validate returns nil when no atom pair is closer than MinSeparation and
// every bond length is inside its range. Otherwise the error wraps
// docking.ErrConformationInvalid.
func (v *ConformationValidator) Validate(pose *docking.Pose) error {
	if err := pose.CheckTopology(); err != nil {
		return err
	}
	c := pose.Coords
	for i := range c {
		for j := i + 1; j < len(c); j++ {
			if d := geometry.Distance(c[i], c[j]); d < v.cfg.MinSeparation {
				return docking.WrapErrorf(docking.ErrConformationInvalid,
					"atoms %d and %d overlap at %.3f Å", i, j, d).WithComponent("validity")
			}
		}
	}
	for _, b := range pose.Bonds {
		lo, hi := v.bondRange(b)
		if d := geometry.Distance(c[b.I], c[b.J]); d < lo || d > hi {
			return docking.WrapErrorf(docking.ErrConformationInvalid,
				"bond %d-%d length %.3f Å outside [%.2f, %.2f]", b.I, b.J, d, lo, hi).WithComponent("validity")
		}
	}
	return nil
}

// Repair returns a valid version of pose together with the repair event
// that produced it. Gaussian perturbations of the original are tried
// first, then a constrained minimization of the overlap and bond penalty.
// When both fail, replace supplies a fresh pose. The input is not modified.
func (v *ConformationValidator) Repair(pose *docking.Pose, rng *rand.Rand, replace func() *docking.Pose) (*docking.Pose, docking.RepairEvent) {
	if v.Validate(pose) == nil {
		return pose, docking.RepairNone
	}

	for attempt := 0; attempt < v.cfg.PerturbAttempts; attempt++ {
		cand := pose.Clone()
		for i := range cand.Coords {
			cand.Coords[i] = r3.Add(cand.Coords[i], geometry.GaussianVec(rng, v.cfg.PerturbSigma))
		}
		if v.Validate(cand) == nil {
			return cand, docking.RepairPerturbed
		}
	}

	if cand, ok := v.minimize(pose); ok {
		return cand, docking.RepairMinimized
	}

	v.logger.Debug("conformation repair failed, replacing individual",
		zap.Int("atoms", pose.Len()),
		zap.Int("perturb_attempts", v.cfg.PerturbAttempts))
	return replace(), docking.RepairReplaced
}

// penalty is the squared violation of the overlap and bond constraints at
// the flattened coordinates x, tightened by a small margin. It is zero for
// comfortably valid geometry. Bonds outside the pose are ignored.
func (v *ConformationValidator) penalty(pose *docking.Pose, x []float64) float64 {
	at := func(i int) r3.Vec { return r3.Vec{X: x[3*i], Y: x[3*i+1], Z: x[3*i+2]} }
	n := len(x) / 3
	minSep := v.cfg.MinSeparation + penaltyMargin

	var p float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if d := geometry.Distance(at(i), at(j)); d < minSep {
				p += (minSep - d) * (minSep - d)
			}
		}
	}
	for _, b := range pose.Bonds {
		if b.I < 0 || b.J < 0 || b.I >= n || b.J >= n {
			continue
		}
		lo, hi := v.bondRange(b)
		lo += penaltyMargin
		hi -= penaltyMargin
		d := geometry.Distance(at(b.I), at(b.J))
		switch {
		case d < lo:
			p += (lo - d) * (lo - d)
		case d > hi:
			p += (d - hi) * (d - hi)
		}
	}
	return p
}

func (v *ConformationValidator) minimize(pose *docking.Pose) (*docking.Pose, bool) {
	f := func(x []float64) float64 { return v.penalty(pose, x) }
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, nil)
		},
	}
	settings := &optimize.Settings{MajorIterations: v.cfg.MinimizeIterations}

	result, err := optimize.Minimize(problem, pose.Flatten(nil), settings, &optimize.LBFGS{})
	if result == nil || len(result.X) != 3*pose.Len() {
		v.logger.Debug("constrained minimization aborted", zap.Error(err))
		return nil, false
	}
	for _, xi := range result.X {
		if math.IsNaN(xi) || math.IsInf(xi, 0) {
			return nil, false
		}
	}

	cand := pose.Clone()
	cand.SetFlat(result.X)
	if v.Validate(cand) != nil {
		return nil, false
	}
	return cand, true
}
