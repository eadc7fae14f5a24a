package module

import (
	"crypto/ed25519"
	"testing"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/stretchr/testify/require"
)

func TestDecodeMajority(t *testing.T) {
	// 7 copies of 0xFF decode to 0xFF (unanimous).
	in := make([]byte, 7)
	for i := range in {
		in[i] = 0xFF
	}
	out, err := Decode(in)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF}, out)
}

func TestDecodeRejectsShortInput(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrDecodeShort)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := []byte("flag{test}")
	encoded := Encode(original)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestDecodeToleratesThreeFlipsPerOutputByte(t *testing.T) {
	original := []byte{0b10110100}
	encoded := Encode(original)
	// Flip 3 of the 7 replicated bytes entirely; majority (4) still agrees.
	encoded[0] ^= 0xFF
	encoded[1] ^= 0xFF
	encoded[2] ^= 0xFF
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func newTestTable(t *testing.T) (*Table, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	mem := memmodel.New(16, 64)
	t.Cleanup(mem.Close)
	return NewTable(mem, pub), pub, priv
}

func signModule(priv ed25519.PrivateKey, id string, decoded []byte) []byte {
	msg := append([]byte(id), decoded...)
	return ed25519.Sign(priv, msg)
}

func TestUploadVerifiesValidSignature(t *testing.T) {
	table, _, priv := newTestTable(t)
	payload := []byte("hello")
	encoded := Encode(payload)
	sig := signModule(priv, "mod-1", payload)

	rec, err := table.Upload("mod-1", encoded, sig)
	require.NoError(t, err)
	require.True(t, rec.Verified())
}

func TestSignatureRejectWhenUnpinnedKey(t *testing.T) {
	table, _, _ := newTestTable(t)
	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := []byte("exploit")
	encoded := Encode(payload)
	badSig := signModule(otherPriv, "mod-1", payload)

	rec, err := table.Upload("mod-1", encoded, badSig)
	require.NoError(t, err)
	require.False(t, rec.Verified())

	require.NoError(t, table.Enable(rec.ID))
	_, err = table.Dispatch(rec.ID)
	require.ErrorIs(t, err, errs.ErrNotVerified)
}

func TestDecodeShortRejectsNonMultipleOfSevenUpload(t *testing.T) {
	table, _, _ := newTestTable(t)
	_, err := table.Upload("mod-1", []byte{1, 2, 3}, nil)
	require.ErrorIs(t, err, errs.ErrDecodeShort)
}

func TestDuplicateModuleIDRejected(t *testing.T) {
	table, _, priv := newTestTable(t)
	payload := []byte("hi")
	encoded := Encode(payload)
	sig := signModule(priv, "mod-1", payload)

	_, err := table.Upload("mod-1", encoded, sig)
	require.NoError(t, err)

	_, err = table.Upload("mod-1", encoded, sig)
	require.ErrorIs(t, err, errs.ErrDuplicateModule)
}

func TestDispatchRequiresEnabled(t *testing.T) {
	table, _, priv := newTestTable(t)
	payload := []byte("hi")
	encoded := Encode(payload)
	sig := signModule(priv, "mod-1", payload)

	rec, err := table.Upload("mod-1", encoded, sig)
	require.NoError(t, err)
	require.True(t, rec.Verified())

	_, err = table.Dispatch(rec.ID)
	require.ErrorIs(t, err, errs.ErrNotEnabled)

	require.NoError(t, table.Enable(rec.ID))
	decoded, err := table.Dispatch(rec.ID)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestUnprotectedVerifiedFlipObservedOnExecute(t *testing.T) {
	table, _, _ := newTestTable(t)
	payload := []byte("exploit-payload")
	encoded := Encode(payload)
	rec, err := table.Upload("mod-1", encoded, nil) // unsigned: stays unverified
	require.NoError(t, err)
	require.NoError(t, table.Enable(rec.ID))

	_, err = table.Dispatch(rec.ID)
	require.ErrorIs(t, err, errs.ErrNotVerified)

	// Simulate the executive flipping the low-order bit of the
	// unprotected Verified byte directly, bypassing the pipeline.
	raw := rec.mem.ReadUnprotected(rec.verifiedOffset, 1)
	raw[0] ^= 0x01
	rec.mem.WriteUnprotected(rec.verifiedOffset, raw)

	decoded, err := table.Dispatch(rec.ID)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestSignatureGateWithoutFaultsNeverExecutesUnsigned(t *testing.T) {
	table, _, _ := newTestTable(t)
	payload := []byte("unsigned")
	encoded := Encode(payload)
	rec, err := table.Upload("mod-1", encoded, nil)
	require.NoError(t, err)
	require.NoError(t, table.Enable(rec.ID))

	for i := 0; i < 100; i++ {
		_, err := table.Dispatch(rec.ID)
		require.ErrorIs(t, err, errs.ErrNotVerified)
	}
}
