// README: One-shot deferred action facility for the expiry timer.
package payment

import "time"

// Timer schedules an action to run no earlier than d from now. There is
// no cancellation: the fired action re-reads persisted state and backs
// off when settlement already happened.
type Timer interface {
	After(d time.Duration, fn func())
}

type WallTimer struct{}

func (WallTimer) After(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
