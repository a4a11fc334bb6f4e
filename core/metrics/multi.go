package metrics

// MultiSink fans out records to several sinks. Optional recorders are only
// forwarded to sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordTransition forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordTransition(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordClaimConflict(ev ClaimConflictEvent) error {
	return forward(m.Sinks, func(r ClaimConflictRecorder) error { return r.RecordClaimConflict(ev) })
}

func (m *MultiSink) RecordFanOut(ev FanOutEvent) error {
	return forward(m.Sinks, func(r FanOutRecorder) error { return r.RecordFanOut(ev) })
}

func (m *MultiSink) RecordMailboxEviction(driverID string, evicted int) error {
	return forward(m.Sinks, func(r MailboxEvictionRecorder) error { return r.RecordMailboxEviction(driverID, evicted) })
}

func (m *MultiSink) RecordPurge(ev PurgeEvent) error {
	return forward(m.Sinks, func(r PurgeRecorder) error { return r.RecordPurge(ev) })
}

func (m *MultiSink) RecordPresence(ev PresenceEvent) error {
	return forward(m.Sinks, func(r PresenceRecorder) error { return r.RecordPresence(ev) })
}

func (m *MultiSink) RecordAvailableDrivers(n int) error {
	return forward(m.Sinks, func(r AvailableDriversRecorder) error { return r.RecordAvailableDrivers(n) })
}

func forward[R any](sinks []MetricsSink, fn func(R) error) error {
	for _, s := range sinks {
		if rec, ok := s.(R); ok {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases every sink holding resources.
func (m *MultiSink) Close() { closeAll(m.Sinks) }
