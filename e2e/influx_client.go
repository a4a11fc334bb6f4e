package e2e

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxClient reads back the points courierd wrote during a scenario.
type InfluxClient struct {
	org    string
	bucket string
	client influxdb2.Client
	query  api.QueryAPI
}

func NewInfluxClient(url, org, bucket, token string) *InfluxClient {
	c := influxdb2.NewClient(url, token)
	return &InfluxClient{org: org, bucket: bucket, client: c, query: c.QueryAPI(org)}
}

// CountTransitions returns the number of order_transition points written
// to the bucket in the last hour with the given target status.
func (c *InfluxClient) CountTransitions(ctx context.Context, to string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q)
  |> range(start:-1h)
  |> filter(fn: (r) => r._measurement == "order_transition" and r.to == %q)`, c.bucket, to)
	res, err := c.query.Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer func() { _ = res.Close() }()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

func (c *InfluxClient) Close() { c.client.Close() }
