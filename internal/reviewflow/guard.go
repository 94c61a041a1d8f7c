package reviewflow

import "sync"

// inFlightGuard admits one mutating operation per review at a time.
type inFlightGuard struct {
	mutex  sync.Mutex
	active map[string]struct{}
}

func newInFlightGuard() *inFlightGuard {
	return &inFlightGuard{active: make(map[string]struct{})}
}

func (guard *inFlightGuard) acquire(reviewID string) (func(), error) {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	if _, busy := guard.active[reviewID]; busy {
		return nil, ErrOperationInFlight
	}
	guard.active[reviewID] = struct{}{}
	return func() {
		guard.mutex.Lock()
		delete(guard.active, reviewID)
		guard.mutex.Unlock()
	}, nil
}

func (guard *inFlightGuard) busy(reviewID string) bool {
	guard.mutex.Lock()
	defer guard.mutex.Unlock()
	_, busy := guard.active[reviewID]
	return busy
}
