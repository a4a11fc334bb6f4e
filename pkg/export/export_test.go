package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/model"
)

func TestWriteCSV(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	recs := []audit.Record{
		{Timestamp: ts, OrderID: 7, ActorID: "d1", ActorRole: model.RoleDriver, From: model.StatusPendingAssignment, To: model.StatusAssigned, DriverID: "d1"},
		{Timestamp: ts, OrderID: 7, ActorID: "a1", ActorRole: model.RoleAdmin, From: model.StatusAssigned, To: model.StatusCancelled, Reason: "address, unreachable"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, recs))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "2026-05-01T10:00:00Z", rows[1][0])
	assert.Equal(t, "7", rows[1][1])
	assert.Equal(t, "assigned", rows[1][5])
	assert.Equal(t, "address, unreachable", rows[2][7])
}

func TestWriteJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}
