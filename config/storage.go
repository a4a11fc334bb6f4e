package config

import (
	"fmt"

	"github.com/kilianp07/courierd/core/factory"
)

// StorageConfig selects the order store and mailbox backends.
type StorageConfig struct {
	Orders  factory.ModuleConfig `json:"orders"`
	Mailbox factory.ModuleConfig `json:"mailbox"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Orders.Type == "" {
		c.Orders.Type = "memory"
	}
	if c.Mailbox.Type == "" {
		c.Mailbox.Type = "memory"
	}
}

func (c StorageConfig) Validate() error {
	if c.Mailbox.Type == "postgres" {
		return fmt.Errorf("mailbox backend postgres is not supported")
	}
	return nil
}
