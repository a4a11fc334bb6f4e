// Package plugins holds the registries of pluggable storage backends,
// selected by type name from configuration.
package plugins

import (
	"github.com/kilianp07/courierd/core/audit"
	"github.com/kilianp07/courierd/core/factory"
	"github.com/kilianp07/courierd/core/notify"
	"github.com/kilianp07/courierd/core/order"
)

var (
	OrderStores = factory.NewRegistry[order.Store]()
	Mailboxes   = factory.NewRegistry[notify.Mailbox]()
	AuditStores = factory.NewRegistry[audit.Store]()
)

func RegisterOrderStore(name string, f factory.Factory[order.Store]) error {
	return OrderStores.Register(name, f)
}

func RegisterMailbox(name string, f factory.Factory[notify.Mailbox]) error {
	return Mailboxes.Register(name, f)
}

func RegisterAuditStore(name string, f factory.Factory[audit.Store]) error {
	return AuditStores.Register(name, f)
}

// NewMailbox builds the configured mailbox. capacity is used when the
// module conf does not set its own.
func NewMailbox(mc factory.ModuleConfig, capacity int) (notify.Mailbox, error) {
	return Mailboxes.Create(WithCapacity(mc, capacity))
}

// WithCapacity returns a copy of mc carrying capacity unless it already has one.
func WithCapacity(mc factory.ModuleConfig, capacity int) factory.ModuleConfig {
	conf := make(map[string]any, len(mc.Conf)+1)
	for k, v := range mc.Conf {
		conf[k] = v
	}
	if _, ok := conf["capacity"]; !ok {
		conf["capacity"] = capacity
	}
	return factory.ModuleConfig{Type: mc.Type, Conf: conf}
}
