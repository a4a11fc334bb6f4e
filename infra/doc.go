// Package infra holds the adapters that connect the dispatch core to the
// outside world: MQTT push and device presence, AMQP order events, SQLite
// and Postgres stores, Prometheus and InfluxDB metrics, Sentry reporting and
// zerolog output. Adapters depend on core interfaces, never the reverse.
package infra
