// Package identity holds this node's identifier, display name, role, and
// the shared secret used to derive session keys. It is a pure data holder
// with no network I/O; the identity file survives restarts so a node keeps
// its id across runs.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/trosyn/lansync/internal/models"
)

const identityFile = "identity.json"

type Identity struct {
	NodeID      string      `json:"node_id"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`

	// Secret is the long-lived shared secret. It is never written to the
	// identity file; it arrives via configuration and is attached after load.
	Secret []byte `json:"-"`
}

// Generate creates a fresh identity with a random node id.
func Generate(displayName string, role models.Role) *Identity {
	return &Identity{
		NodeID:      uuid.NewString(),
		DisplayName: displayName,
		Role:        role,
	}
}

// Load reads the identity file from dir. Returns os.ErrNotExist (wrapped)
// when no identity has been persisted yet.
func Load(dir string) (*Identity, error) {
	b, err := os.ReadFile(filepath.Join(dir, identityFile))
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	id := &Identity{}
	if err := json.Unmarshal(b, id); err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	return id, nil
}

// Save persists the identity to dir, creating the directory if needed.
func (id *Identity) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, identityFile), b, 0o600)
}

// LoadOrGenerate returns the persisted identity, or creates and persists a
// new one when none exists. The display name and role always track the
// current configuration; only the node id is sticky.
func LoadOrGenerate(dir, displayName string, role models.Role) (*Identity, error) {
	id, err := Load(dir)
	if err != nil {
		id = Generate(displayName, role)
	} else {
		id.DisplayName = displayName
		id.Role = role
	}

	if err := id.Save(dir); err != nil {
		return nil, fmt.Errorf("persisting identity: %w", err)
	}
	return id, nil
}
