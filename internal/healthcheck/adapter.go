package healthcheck

import "context"

// Aggregator runs several checkers and folds their results into one status.
type Aggregator struct {
	checkers []Checker
}

// NewAggregator creates an aggregator. Nil checkers are skipped.
func NewAggregator(checkers ...Checker) *Aggregator {
	a := &Aggregator{}
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
	return a
}

// ListChecks evaluates every checker in order.
func (a *Aggregator) ListChecks(ctx context.Context) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := make([]CheckResult, 0, len(a.checkers))
	for _, c := range a.checkers {
		result = append(result, c.ListChecks(ctx)...)
	}
	return result
}

// Overall reports the worst status among items. An empty list is unknown.
func Overall(items []CheckResult) string {
	if len(items) == 0 {
		return StatusUnknown
	}
	status := StatusOK
	for _, item := range items {
		switch item.Status {
		case StatusError:
			return StatusError
		case StatusWarn, StatusUnknown:
			status = StatusWarn
		}
	}
	return status
}
