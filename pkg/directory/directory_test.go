package directory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamlink/js8relay/pkg/lxmf"
	"github.com/hamlink/js8relay/pkg/storage"
)

const (
	idAlice = lxmf.Identity("a1b2c3d4e5f60718293a4b5c6d7e8f90")
	idBob   = lxmf.Identity("00ff00ff00ff00ff00ff00ff00ff00ff")
)

func newTestDirectory(t *testing.T, defaultGroups ...string) (*Directory, *storage.Store) {
	t.Helper()
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d, err := New(store, defaultGroups)
	require.NoError(t, err)
	return d, store
}

func TestNormalizeCallsign(t *testing.T) {
	c, err := NormalizeCallsign(" n0call ")
	require.NoError(t, err)
	assert.Equal(t, "N0CALL", c)

	c, err = NormalizeCallsign("vk2abc/p")
	require.NoError(t, err)
	assert.Equal(t, "VK2ABC/P", c)

	for _, bad := range []string{"", "NOCALL", "@HAMNET", "N0CALL/TOOLONG"} {
		_, err := NormalizeCallsign(bad)
		assert.ErrorIs(t, err, ErrInvalidCallsign, "input %q", bad)
	}
}

func TestNormalizeGroup(t *testing.T) {
	assert.Equal(t, "@HAMNET", NormalizeGroup("hamnet"))
	assert.Equal(t, "@HAMNET", NormalizeGroup(" @HamNet "))
	assert.Equal(t, "", NormalizeGroup("  "))
}

func TestAddUserJoinsDefaultGroups(t *testing.T) {
	d, _ := newTestDirectory(t, "hamnet", "@WX")

	created, err := d.AddUser(idAlice)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = d.AddUser(idAlice)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, []string{"@HAMNET", "@WX"}, d.Groups(idAlice))
	assert.Equal(t, []lxmf.Identity{idAlice}, d.Subscribers("@HAMNET"))
}

func TestMuteSuppressesDelivery(t *testing.T) {
	d, _ := newTestDirectory(t, "@HAMNET")

	_, err := d.AddUser(idAlice)
	require.NoError(t, err)
	_, err = d.AddUser(idBob)
	require.NoError(t, err)

	require.NoError(t, d.Mute(idBob, "@HAMNET"))
	assert.Equal(t, []lxmf.Identity{idBob, idAlice}[1:], d.Subscribers("@HAMNET"))
	assert.True(t, d.IsMuted(idBob, "@HAMNET"))

	require.NoError(t, d.Unmute(idBob, "@HAMNET"))
	assert.Len(t, d.Subscribers("@HAMNET"), 2)

	require.NoError(t, d.Mute(idBob, MuteAll))
	assert.True(t, d.IsMuted(idBob, "@ANYTHING"))
	assert.Equal(t, []lxmf.Identity{idAlice}, d.Recipients())
}

func TestBindingLastWriteWins(t *testing.T) {
	d, _ := newTestDirectory(t)

	require.NoError(t, d.Bind("N0CALL", idAlice))
	require.NoError(t, d.Bind("n0call", idBob))

	id, ok := d.ResolveCallsign("N0CALL")
	require.True(t, ok)
	assert.Equal(t, idBob, id)

	call, ok := d.ResolveIdentity(idBob)
	require.True(t, ok)
	assert.Equal(t, "N0CALL", call)

	require.NoError(t, d.Unbind("N0CALL"))
	_, ok = d.ResolveCallsign("N0CALL")
	assert.False(t, ok)
	assert.ErrorIs(t, d.Unbind("N0CALL"), ErrNotFound)
}

func TestRebindReleasesPreviousCallsign(t *testing.T) {
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d, err := New(store, nil)
	require.NoError(t, err)

	require.NoError(t, d.Bind("A1A", idAlice))
	require.NoError(t, d.Bind("B1B", idAlice))

	call, ok := d.ResolveIdentity(idAlice)
	require.True(t, ok)
	assert.Equal(t, "B1B", call)

	_, ok = d.ResolveCallsign("A1A")
	assert.False(t, ok, "old callsign must be released on rebind")
	assert.Len(t, d.Bindings(), 1)

	// The release reaches the store, not just the in-memory map.
	reloaded, err := New(store, nil)
	require.NoError(t, err)
	call, ok = reloaded.ResolveIdentity(idAlice)
	require.True(t, ok)
	assert.Equal(t, "B1B", call)
	_, ok = reloaded.ResolveCallsign("A1A")
	assert.False(t, ok)

	// Rebinding the released callsign to another identity is independent.
	require.NoError(t, d.Bind("A1A", idBob))
	call, ok = d.ResolveIdentity(idAlice)
	require.True(t, ok)
	assert.Equal(t, "B1B", call)
}

func TestRosterSurvivesReload(t *testing.T) {
	store, err := storage.OpenPath(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d, err := New(store, []string{"@HAMNET"})
	require.NoError(t, err)
	_, err = d.AddUser(idAlice)
	require.NoError(t, err)
	require.NoError(t, d.Join(idAlice, "@WX"))
	require.NoError(t, d.Mute(idAlice, "@WX"))
	require.NoError(t, d.Bind("N0CALL", idAlice))

	reloaded, err := New(store, []string{"@HAMNET"})
	require.NoError(t, err)
	assert.True(t, reloaded.IsUser(idAlice))
	assert.Equal(t, []string{"@HAMNET", "@WX"}, reloaded.Groups(idAlice))
	assert.True(t, reloaded.IsMuted(idAlice, "@WX"))
	id, ok := reloaded.ResolveCallsign("N0CALL")
	require.True(t, ok)
	assert.Equal(t, idAlice, id)
}

func TestJoinLeaveRequiresUser(t *testing.T) {
	d, _ := newTestDirectory(t)

	assert.ErrorIs(t, d.Join(idAlice, "@HAMNET"), ErrNotFound)
	assert.ErrorIs(t, d.Mute(idAlice, "@HAMNET"), ErrNotFound)
	assert.ErrorIs(t, d.RemoveUser(idAlice), ErrNotFound)

	_, err := d.AddUser(idAlice)
	require.NoError(t, err)
	require.NoError(t, d.Join(idAlice, "@WX"))
	require.NoError(t, d.Leave(idAlice, "@WX"))
	assert.Empty(t, d.Groups(idAlice))
}
