package factory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mailbox struct {
	path     string
	capacity int
}

func mailboxRegistry(t *testing.T) *Registry[*mailbox] {
	t.Helper()
	reg := NewRegistry[*mailbox]()
	require.NoError(t, reg.Register("sqlite", func(conf map[string]any) (*mailbox, error) {
		var c struct {
			Path     string `json:"path"`
			Capacity int    `json:"capacity"`
		}
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Path == "" {
			return nil, errors.New("path is required")
		}
		return &mailbox{path: c.Path, capacity: c.Capacity}, nil
	}))
	require.NoError(t, reg.Register("memory", func(map[string]any) (*mailbox, error) { return &mailbox{}, nil }))
	return reg
}

func TestRegistry_Create(t *testing.T) {
	reg := mailboxRegistry(t)

	mb, err := reg.Create(ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "mail.db", "capacity": 50}})
	require.NoError(t, err)
	assert.Equal(t, &mailbox{path: "mail.db", capacity: 50}, mb)

	_, err = reg.Create(ModuleConfig{Type: "sqlite"})
	assert.ErrorContains(t, err, "sqlite: path is required")

	_, err = reg.Create(ModuleConfig{Type: "redis"})
	require.ErrorIs(t, err, ErrUnknownType)
	assert.ErrorContains(t, err, "[memory sqlite]")
}

func TestRegistry_Register(t *testing.T) {
	reg := mailboxRegistry(t)
	assert.Error(t, reg.Register("memory", func(map[string]any) (*mailbox, error) { return nil, nil }))
	assert.Error(t, reg.Register("other", nil))
	assert.Equal(t, []string{"memory", "sqlite"}, reg.Types())
}

func TestDecode_WeakTypes(t *testing.T) {
	var c struct {
		Capacity int           `json:"capacity"`
		Timeout  time.Duration `json:"timeout"`
		Enabled  bool          `json:"enabled"`
	}
	require.NoError(t, Decode(map[string]any{"capacity": "25", "timeout": "90s", "enabled": "true"}, &c))
	assert.Equal(t, 25, c.Capacity)
	assert.Equal(t, 90*time.Second, c.Timeout)
	assert.True(t, c.Enabled)
}
