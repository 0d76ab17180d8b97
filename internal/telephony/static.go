package telephony

import "sync"

// Static is a Monitor whose modems are set by hand. It stands in for
// ModemManager on machines without a system bus.
type Static struct {
	mu      sync.Mutex
	signals map[string]Signal
	watches *watchSet
}

func NewStatic(signals map[string]Signal) *Static {
	s := &Static{signals: copySignals(signals)}
	s.watches = newWatchSet(func() func() { return func() {} })
	return s
}

func (s *Static) SignalStrengths() map[string]Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySignals(s.signals)
}

// Set replaces the modems and notifies the watchers.
func (s *Static) Set(signals map[string]Signal) {
	s.mu.Lock()
	s.signals = copySignals(signals)
	s.mu.Unlock()
	s.watches.emit()
}

func (s *Static) Watch(f func()) func() {
	return s.watches.add(f)
}

// Watchers returns the number of watches held.
func (s *Static) Watchers() int {
	return s.watches.count()
}

func copySignals(signals map[string]Signal) map[string]Signal {
	c := make(map[string]Signal, len(signals))
	for id, sig := range signals {
		c[id] = sig
	}
	return c
}
