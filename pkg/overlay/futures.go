package overlay

import "time"

// pendingFuture backs every future-like await the engine exposes
// (waitForAck, requestPayload, pingHost), per spec.md §5 "Suspension
// points": outbound sends are non-blocking; only these resolve on a
// matching reply or reject on timeout.
type pendingFuture struct {
	resolve func(Envelope)
	reject  func(error)
	timer   *time.Timer
}

// registerFuture adds a pending future to the given registry, arming a
// timer that — when it fires — posts the timeout rejection back onto the
// peer's single-threaded actor loop so it never races with a concurrent
// reply arriving at the same moment.
func (p *Peer) registerFuture(reg map[string]*pendingFuture, key string, timeout time.Duration, timeoutErr error, resolve func(Envelope), reject func(error)) {
	pf := &pendingFuture{resolve: resolve, reject: reject}
	pf.timer = time.AfterFunc(timeout, func() {
		p.post(func() {
			if cur, ok := reg[key]; ok && cur == pf {
				delete(reg, key)
				reject(timeoutErr)
			}
		})
	})
	reg[key] = pf
}

// resolveFuture resolves and clears a pending future identified by key, if
// one is registered. Called from inside the actor loop only.
func resolveFuture(reg map[string]*pendingFuture, key string, env Envelope) bool {
	pf, ok := reg[key]
	if !ok {
		return false
	}
	pf.timer.Stop()
	delete(reg, key)
	pf.resolve(env)
	return true
}

// rejectAllFutures rejects and clears every pending future in reg with the
// given error, used during peer teardown (spec.md §5 Cancellation).
func rejectAllFutures(reg map[string]*pendingFuture, err error) {
	for key, pf := range reg {
		pf.timer.Stop()
		delete(reg, key)
		pf.reject(err)
	}
}
