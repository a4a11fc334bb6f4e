package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordSink struct {
	transitions int
	fanouts     int
}

func (r *recordSink) RecordTransition(TransitionEvent) error {
	r.transitions++
	return nil
}

func (r *recordSink) RecordFanOut(FanOutEvent) error {
	r.fanouts++
	return nil
}

type transitionOnly struct{ n int }

func (t *transitionOnly) RecordTransition(TransitionEvent) error {
	t.n++
	return nil
}

func TestMultiSinkForwardsOptionalRecorders(t *testing.T) {
	s1 := &recordSink{}
	s2 := &transitionOnly{}
	m := NewMultiSink(s1, s2)

	assert.NoError(t, m.RecordTransition(TransitionEvent{OrderID: 1}))
	assert.NoError(t, m.RecordFanOut(FanOutEvent{OrderID: 1, Notified: 3}))
	assert.NoError(t, m.RecordPurge(PurgeEvent{}))

	assert.Equal(t, 1, s1.transitions)
	assert.Equal(t, 1, s1.fanouts)
	assert.Equal(t, 1, s2.n)
}

func TestRecordHelpersIgnoreUnsupported(t *testing.T) {
	s := &transitionOnly{}
	assert.NoError(t, FanOut(s, FanOutEvent{}))
	assert.NoError(t, ClaimConflict(s, ClaimConflictEvent{}))
	assert.NoError(t, MailboxEviction(s, "d1", 1))

	rs := &recordSink{}
	assert.NoError(t, FanOut(rs, FanOutEvent{}))
	assert.Equal(t, 1, rs.fanouts)
}
