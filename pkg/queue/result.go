package queue

import "fmt"

// Outcome is what a handler decided about a job.
type Outcome int

const (
	OutcomeOk    Outcome = iota // Job done, archive it
	OutcomeRetry                // Transient failure, schedule another attempt
	OutcomeFatal                // Permanent failure, retain as failed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOk:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by handlers. Only the runner turns it into a state
// transition.
type Result struct {
	Outcome Outcome
	Err     error
}

func Ok() Result {
	return Result{Outcome: OutcomeOk}
}

func Retry(err error) Result {
	return Result{Outcome: OutcomeRetry, Err: err}
}

func Fatal(err error) Result {
	return Result{Outcome: OutcomeFatal, Err: err}
}
