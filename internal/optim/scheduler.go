package optim

import (
	"fmt"
	"math"
)

// LRSetter is an optimizer whose learning rate can be changed.
type LRSetter interface {
	GetLR() float32
	SetLR(lr float32)
}

// StepLR decays the learning rate by gamma every stepSize epochs:
//
//	lr = baseLR * gamma^(lastEpoch / stepSize)
//
// Step is called once per epoch, after validation.
type StepLR struct {
	opt       LRSetter
	baseLR    float32
	stepSize  int
	gamma     float64
	lastEpoch int
}

// NewStepLR wraps opt, taking its current learning rate as the base rate.
func NewStepLR(opt LRSetter, stepSize int, gamma float64) (*StepLR, error) {
	if stepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %d", stepSize)
	}
	if gamma <= 0 {
		return nil, fmt.Errorf("gamma must be positive, got %g", gamma)
	}
	return &StepLR{opt: opt, baseLR: opt.GetLR(), stepSize: stepSize, gamma: gamma}, nil
}

// Step advances one epoch and updates the optimizer's learning rate.
func (s *StepLR) Step() {
	s.lastEpoch++
	s.opt.SetLR(s.LR())
}

// LR returns the learning rate for the current epoch.
func (s *StepLR) LR() float32 {
	return float32(float64(s.baseLR) * math.Pow(s.gamma, float64(s.lastEpoch/s.stepSize)))
}

// LastEpoch returns how many times Step has been called.
func (s *StepLR) LastEpoch() int {
	return s.lastEpoch
}

// SetLastEpoch fast-forwards the schedule, e.g. when resuming, and applies
// the corresponding learning rate.
func (s *StepLR) SetLastEpoch(epoch int) {
	s.lastEpoch = epoch
	s.opt.SetLR(s.LR())
}
