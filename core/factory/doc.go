// Package factory provides a small generic registry used to instantiate
// pluggable backends (order stores, mailboxes, audit stores, metrics sinks)
// from configuration. A backend is selected by a type string and receives
// its raw settings as a map, which the factory decodes into a typed struct.
//
// Example usage:
//
//	reg := factory.NewRegistry[notify.Mailbox]()
//	reg.Register("sqlite", func(conf map[string]any) (notify.Mailbox, error) {
//	    var c struct {
//	        Path     string `json:"path"`
//	        Capacity int    `json:"capacity"`
//	    }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlite.OpenMailbox(c.Path, c.Capacity)
//	})
//	mb, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "mail.db"}})
package factory
