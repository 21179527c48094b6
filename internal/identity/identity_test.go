package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/trosyn/lansync/internal/models"
)

func TestLoadOrGenerate_StickyNodeID(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir, "finance", models.RolePeer)
	require.NoError(t, err)
	require.NotEmpty(t, first.NodeID)

	second, err := LoadOrGenerate(dir, "finance-renamed", models.RoleHub)
	require.NoError(t, err)

	require.Equal(t, first.NodeID, second.NodeID)
	require.Equal(t, "finance-renamed", second.DisplayName)
	require.Equal(t, models.RoleHub, second.Role)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestSave_DoesNotPersistSecret(t *testing.T) {
	dir := t.TempDir()

	id := Generate("hr", models.RolePeer)
	id.Secret = []byte("super-secret")
	require.NoError(t, id.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Empty(t, loaded.Secret)
}
