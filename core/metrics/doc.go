// Package metrics defines the sink interfaces used to observe dispatch
// activity: order transitions, lost claims, notification fan-out, mailbox
// evictions, retention sweeps and driver presence. Only RecordTransition is
// mandatory; the other recorders are optional and discovered by type
// assertion. NewMetricsSink builds a MultiSink when several sinks are
// configured.
package metrics
