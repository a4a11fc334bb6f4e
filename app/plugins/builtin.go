package plugins

import (
	"context"
	"time"

	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/factory"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/core/order"
	"github.com/kilianp07/courierd/infra/store/postgres"
	"github.com/kilianp07/courierd/infra/store/sqlite"
)

type pathConf struct {
	Path string `json:"path"`
}

type mailboxConf struct {
	Path     string `json:"path"`
	Capacity int    `json:"capacity"`
}

type rotatingConf struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

func init() {
	_ = RegisterOrderStore("memory", func(map[string]any) (order.Store, error) {
		return order.NewMemoryStore(), nil
	})
	_ = RegisterOrderStore("sqlite", func(conf map[string]any) (order.Store, error) {
		var c pathConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return sqlite.OpenOrderStore(c.Path)
	})
	_ = RegisterOrderStore("postgres", func(conf map[string]any) (order.Store, error) {
		var c struct {
			DSN string `json:"dsn"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.Open(ctx, c.DSN)
	})

	_ = RegisterMailbox("memory", func(conf map[string]any) (notify.Mailbox, error) {
		var c mailboxConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return notify.NewMemoryMailbox(c.Capacity), nil
	})
	_ = RegisterMailbox("sqlite", func(conf map[string]any) (notify.Mailbox, error) {
		var c mailboxConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return sqlite.OpenMailbox(c.Path, c.Capacity)
	})

	_ = RegisterAuditStore("memory", func(map[string]any) (audit.Store, error) {
		return audit.NewMemoryStore(), nil
	})
	_ = RegisterAuditStore("jsonl", func(conf map[string]any) (audit.Store, error) {
		var c pathConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return audit.NewJSONLStore(c.Path)
	})
	_ = RegisterAuditStore("rotating", func(conf map[string]any) (audit.Store, error) {
		var c rotatingConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return audit.NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
	_ = RegisterAuditStore("sqlite", func(conf map[string]any) (audit.Store, error) {
		var c pathConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return audit.NewSQLiteStore(c.Path)
	})
}
