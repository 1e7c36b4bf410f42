package update

// Outcome is the terminal state of an update pipeline run. A boolean is not
// enough: a version can be committed while the service fails to come back up,
// which needs operator attention but is not a rollback-eligible failure.
type Outcome int

const (
	// OutcomeSucceeded means the update applied and the service is running.
	OutcomeSucceeded Outcome = iota
	// OutcomeDegraded means the version was committed but the service
	// did not start; the appliance is updated but not running.
	OutcomeDegraded
	// OutcomeFailed means the pipeline stopped before committing.
	OutcomeFailed
)

// String returns a short identifier for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
