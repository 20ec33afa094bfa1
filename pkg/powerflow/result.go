package powerflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSingular      = errors.New("powerflow: singular jacobian")
	ErrMaxIterations = errors.New("powerflow: maximum iterations reached")
	ErrNotValidated  = errors.New("powerflow: network not validated")
	ErrSetpoint      = errors.New("powerflow: PV bus has zero voltage set-point")
)

type Status int

const (
	Converged Status = iota
	DivergedMaxIterations
	FailedSingular
	FailedInvalid // rejected before the first iteration
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case DivergedMaxIterations:
		return "diverged (max iterations)"
	case FailedSingular:
		return "failed (singular)"
	case FailedInvalid:
		return "failed (invalid input)"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Timings accumulates wall time per solver phase over one Solve call.
type Timings struct {
	Init        time.Duration
	Mismatch    time.Duration
	Jacobian    time.Duration
	Eliminate   time.Duration
	Build       time.Duration
	LinearSolve time.Duration
	Update      time.Duration
	Total       time.Duration
}

type Result struct {
	Status     Status
	Iterations int       // Newton steps taken
	Error      float64   // infinity norm of the last residual
	Residuals  []float64 // residual norm per evaluation, starting point included
	Timings    Timings
}

func (r Result) Converged() bool { return r.Status == Converged }
