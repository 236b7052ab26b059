package metrics

const (
	// MetricsNamespace is the namespace for all metrics. This name is
	// prepended to all metrics.
	MetricsNamespace = "tracked_reader"
)

// OutcomeType is the outcome of a tracked call.
type OutcomeType string

const (
	// Success is the outcome type for calls the stream completed.
	Success OutcomeType = "success"
	// Failure is the outcome type for calls the stream failed.
	Failure OutcomeType = "failure"
)

func outcomeOf(failed bool) OutcomeType {
	if failed {
		return Failure
	}

	return Success
}

// whenceNames maps io.Seeker whence values to label values.
var whenceNames = map[int]string{
	0: "start",
	1: "current",
	2: "end",
}
