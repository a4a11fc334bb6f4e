package metrics

// The helpers below let core components emit optional records without
// repeating the type assertion at every call site.

func ClaimConflict(s MetricsSink, ev ClaimConflictEvent) error {
	if r, ok := s.(ClaimConflictRecorder); ok {
		return r.RecordClaimConflict(ev)
	}
	return nil
}

func FanOut(s MetricsSink, ev FanOutEvent) error {
	if r, ok := s.(FanOutRecorder); ok {
		return r.RecordFanOut(ev)
	}
	return nil
}

func MailboxEviction(s MetricsSink, driverID string, evicted int) error {
	if r, ok := s.(MailboxEvictionRecorder); ok && evicted > 0 {
		return r.RecordMailboxEviction(driverID, evicted)
	}
	return nil
}

func Purge(s MetricsSink, ev PurgeEvent) error {
	if r, ok := s.(PurgeRecorder); ok {
		return r.RecordPurge(ev)
	}
	return nil
}

func Presence(s MetricsSink, ev PresenceEvent) error {
	if r, ok := s.(PresenceRecorder); ok {
		return r.RecordPresence(ev)
	}
	return nil
}

func AvailableDrivers(s MetricsSink, n int) error {
	if r, ok := s.(AvailableDriversRecorder); ok {
		return r.RecordAvailableDrivers(n)
	}
	return nil
}
