package identity

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type usersFile struct {
	Users []User `json:"users" yaml:"users"`
}

// LoadFile reads a JSON or YAML users file into a MemoryDirectory.
func LoadFile(path string) (*MemoryDirectory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Decode(f, ext)
}

// Decode reads users from r in the given format ("yaml", "yml" or "json").
func Decode(r io.Reader, format string) (*MemoryDirectory, error) {
	var uf usersFile
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&uf); err != nil && err != io.EOF {
			return nil, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&uf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported users format: %s", format)
	}
	for i, u := range uf.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("users[%d]: missing id", i)
		}
		if !u.Role.Valid() {
			return nil, fmt.Errorf("users[%d]: invalid role %q", i, u.Role)
		}
	}
	return NewMemoryDirectory(uf.Users...), nil
}
