// Package export renders audit trails for offline analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/courierd/core/audit"
)

var csvHeader = []string{"timestamp", "order_id", "actor_id", "actor_role", "from", "to", "driver_id", "reason"}

// WriteJSON writes records to w as a JSON array.
func WriteJSON(w io.Writer, records []audit.Record) error {
	if records == nil {
		records = []audit.Record{}
	}
	return json.NewEncoder(w).Encode(records)
}

// WriteCSV writes records to w in CSV format, one transition per row.
func WriteCSV(w io.Writer, records []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatInt(r.OrderID, 10),
			r.ActorID,
			string(r.ActorRole),
			string(r.From),
			string(r.To),
			r.DriverID,
			r.Reason,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
