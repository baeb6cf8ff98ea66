/*
Package resilience provides the circuit breaker that guards fire-and-forget
collaborators.

# Overview

The stall detector reports suspected stalls to the diagnostics collaborator
without waiting for an answer. When that collaborator keeps failing, the
breaker opens and further reports are dropped (and counted) instead of being
attempted on every stall.

# States

- Closed: Normal operation, requests pass through
- Open: Collaborator unavailable, requests fail immediately
- Half-Open: Testing if the collaborator recovered, limited requests allowed

# Usage

	breaker := resilience.New("diagnostics", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Execute(func() error {
		return reporter.ReportScriptIssue(ctx, issue)
	})
	if resilience.Rejected(err) {
		// dropped without calling the reporter
	}

Settings.Clock lets the simulated host drive the open-state timeout with
virtual time.
*/
package resilience
