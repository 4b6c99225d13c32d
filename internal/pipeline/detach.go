package pipeline

import (
	"log/slog"
	"runtime/debug"
)

// detach runs fn on its own goroutine behind a recover boundary. Used
// for work that must never affect delivery: sentiment scoring, summary
// refresh, event fan-out.
func detach(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("detached task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
