package checkpoint

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/radsat-ctf/radsat/internal/orbit"
)

func TestSaveLoadRestoreRoundTrip(t *testing.T) {
	mem := memmodel.New(4, 16)
	defer mem.Close()

	page2 := bytes.Repeat([]byte{0xAB}, memmodel.PageSize)
	mem.WritePage(2, page2)

	orbitState := orbit.State{
		Position: orbit.Vec3{X: 7000000, Y: 0, Z: 0},
		Velocity: orbit.Vec3{X: 0, Y: 7500, Z: 0},
		Epoch:    time.Unix(1_700_000_000, 0).UTC(),
		FuelMps:  42.5,
	}

	modules := []ModuleSnapshot{
		{ID: "m1", Raw: []byte{1, 2, 3}, Signature: []byte{9}, Enabled: true},
	}

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, mem, orbitState, modules))

	snap, err := Load(&buf)
	require.NoError(t, err)
	require.Equal(t, 4, snap.Manifest.NumPages)
	require.Equal(t, 16, snap.Manifest.UnprotectedLen)
	require.Len(t, snap.Manifest.Modules, 1)
	require.Equal(t, "m1", snap.Manifest.Modules[0].ID)
	require.True(t, snap.Manifest.Modules[0].Enabled)

	restoredState := snap.Manifest.Orbit.ToState()
	require.Equal(t, orbitState.Position, restoredState.Position)
	require.Equal(t, orbitState.Velocity, restoredState.Velocity)
	require.Equal(t, orbitState.FuelMps, restoredState.FuelMps)
	require.True(t, orbitState.Epoch.Equal(restoredState.Epoch))

	fresh := memmodel.New(4, 16)
	defer fresh.Close()
	require.NoError(t, snap.Restore(fresh))

	got, err := fresh.ReadPage(2)
	require.NoError(t, err)
	require.Equal(t, page2, got)
}

func TestLoadRejectsTruncatedInput(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte{0x00, 0x00}))
	require.Error(t, err)
}

func TestRestoreRejectsPageCountMismatch(t *testing.T) {
	mem := memmodel.New(2, 0)
	defer mem.Close()

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, mem, orbit.State{Epoch: time.Unix(0, 0)}, nil))

	snap, err := Load(&buf)
	require.NoError(t, err)

	bigger := memmodel.New(3, 0)
	defer bigger.Close()
	require.Error(t, snap.Restore(bigger))
}
