// Package safego launches goroutines that survive panics. The service runs
// several fire-and-forget goroutines (the summary aggregation loop, async
// credential last-used stamps) whose silent death would go unnoticed until
// summaries stop updating, so panics are logged instead of lost.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
