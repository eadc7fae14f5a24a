package session

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/radsat-ctf/radsat/internal/interp"
	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/radsat-ctf/radsat/internal/module"
	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/wireproto"
)

func newTestFirmware(t *testing.T) (*Firmware, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	mem := memmodel.New(8, 64)
	t.Cleanup(mem.Close)

	prop := orbit.NewPropagator(orbit.State{
		Position: orbit.Vec3{X: 7_000_000, Y: 0, Z: 0},
		Velocity: orbit.Vec3{X: 0, Y: 7_500, Z: 0},
		Epoch:    time.Unix(0, 0).UTC(),
		FuelMps:  1000,
	})

	flag, err := os.CreateTemp(t.TempDir(), "flag")
	require.NoError(t, err)
	_, err = flag.WriteString("CTF{test}")
	require.NoError(t, err)
	require.NoError(t, flag.Close())

	cfg := Config{
		TickPeriod:        20 * time.Millisecond,
		ScrubPeriod:       time.Second,
		InstructionBudget: 1000,
		FlagPath:          flag.Name(),
		ValidToken:        "s3cr3t",
	}

	f := NewFirmware(cfg, mem, prop, module.NewTable(mem, pub), zerolog.Nop())
	return f, priv
}

func writeFrame(t *testing.T, conn net.Conn, fr wireproto.Frame) {
	t.Helper()
	require.NoError(t, wireproto.WriteFrame(conn, fr))
}

func readFrame(t *testing.T, r *bufio.Reader) wireproto.Frame {
	t.Helper()
	fr, err := wireproto.ReadFrame(r)
	require.NoError(t, err)
	return fr
}

func TestSessionRejectsBadToken(t *testing.T) {
	f, _ := newTestFirmware(t)

	serverConn, clientConn := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- f.Serve(context.Background(), serverConn) }()

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindAuthenticate,
		Payload: wireproto.EncodeAuthenticate(wireproto.AuthenticatePayload{Token: "wrong"}),
	})
	r := bufio.NewReader(clientConn)
	fr := readFrame(t, r)
	require.Equal(t, wireproto.KindError, fr.Kind)
	clientConn.Close()
	<-done
}

func TestSessionManeuverCommand(t *testing.T) {
	f, _ := newTestFirmware(t)

	serverConn, clientConn := net.Pipe()
	go f.Serve(context.Background(), serverConn)
	defer clientConn.Close()

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindAuthenticate,
		Payload: wireproto.EncodeAuthenticate(wireproto.AuthenticatePayload{Token: "s3cr3t"}),
	})
	r := bufio.NewReader(clientConn)
	ack := readFrame(t, r)
	require.Equal(t, wireproto.KindCommandAck, ack.Kind)

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindManeuver,
		Payload: wireproto.EncodeManeuver(wireproto.ManeuverPayload{DX: 1, DY: 0, DZ: 0}),
	})
	ack2 := readFrame(t, r)
	require.Equal(t, wireproto.KindCommandAck, ack2.Kind)
	got, err := wireproto.DecodeAck(ack2.Payload)
	require.NoError(t, err)
	require.True(t, got.OK)

	require.Less(t, f.Propagator().State().FuelMps, 1000.0)
}

func TestSessionVerifiedModuleExecutesOnlyOnceEnabled(t *testing.T) {
	f, priv := newTestFirmware(t)

	serverConn, clientConn := net.Pipe()
	go f.Serve(context.Background(), serverConn)
	defer clientConn.Close()

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindAuthenticate,
		Payload: wireproto.EncodeAuthenticate(wireproto.AuthenticatePayload{Token: "s3cr3t"}),
	})
	r := bufio.NewReader(clientConn)
	readFrame(t, r) // auth ack

	decoded := make([]byte, 4) // one HALT word, all zero opcode happens to be HALT==0
	raw := module.Encode(decoded)
	sig := ed25519.Sign(priv, append([]byte("mod1"), decoded...))

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleUpload,
		Payload: wireproto.EncodeModuleUpload(wireproto.ModuleUploadPayload{ID: "mod1", Raw: raw, Signature: sig}),
	})
	uploadAck := readFrame(t, r)
	ackPayload, err := wireproto.DecodeAck(uploadAck.Payload)
	require.NoError(t, err)
	require.True(t, ackPayload.OK)

	// Not yet enabled: execute must fail even though verified.
	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleExecute,
		Payload: wireproto.EncodeModuleID(wireproto.ModuleIDPayload{ID: "mod1"}),
	})
	execAck := readFrame(t, r)
	execPayload, err := wireproto.DecodeAck(execAck.Payload)
	require.NoError(t, err)
	require.False(t, execPayload.OK)

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleEnable,
		Payload: wireproto.EncodeModuleID(wireproto.ModuleIDPayload{ID: "mod1"}),
	})
	readFrame(t, r) // enable ack

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleExecute,
		Payload: wireproto.EncodeModuleID(wireproto.ModuleIDPayload{ID: "mod1"}),
	})
	execAck2 := readFrame(t, r)
	execPayload2, err := wireproto.DecodeAck(execAck2.Payload)
	require.NoError(t, err)
	require.True(t, execPayload2.OK)
}

func TestSessionTelemetryPushAfterSubscribe(t *testing.T) {
	f, _ := newTestFirmware(t)
	f.cfg.TickPeriod = 5 * time.Millisecond

	serverConn, clientConn := net.Pipe()
	go f.Serve(context.Background(), serverConn)
	defer clientConn.Close()

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindAuthenticate,
		Payload: wireproto.EncodeAuthenticate(wireproto.AuthenticatePayload{Token: "s3cr3t"}),
	})
	r := bufio.NewReader(clientConn)
	readFrame(t, r) // auth ack

	writeFrame(t, clientConn, wireproto.Frame{Kind: wireproto.KindTelemetrySubscribe})

	fr := readFrame(t, r)
	require.Equal(t, wireproto.KindTelemetryFrame, fr.Kind)
	_, err := wireproto.DecodeTelemetry(fr.Payload)
	require.NoError(t, err)
}

// assembleProgram little-endian-packs a word stream into a decoded
// module payload, the same layout cmd/modasm emits.
func assembleProgram(words ...uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		out[i*4] = byte(w)
		out[i*4+1] = byte(w >> 8)
		out[i*4+2] = byte(w >> 16)
		out[i*4+3] = byte(w >> 24)
	}
	return out
}

// TestSessionEventLogReachesTelemetryOverWire drives spec.md §8 scenario
// S5 end to end through Firmware.Serve rather than internal/interp's Host
// unit tests: upload a module that reads the flag path into scratch and
// logs it, enable it, execute it, subscribe to telemetry, and confirm
// the flag bytes actually arrive at the network client, not just inside
// execHost's own log slice.
func TestSessionEventLogReachesTelemetryOverWire(t *testing.T) {
	f, priv := newTestFirmware(t)

	flagLen := int32(len("CTF{test}"))
	decoded := assembleProgram(
		interp.EncodeRRI(interp.OpADDI, 0, 0, interp.SysReadPath),
		interp.EncodeRRI(interp.OpADDI, 1, 0, 0), // path index 0: the flag
		interp.EncodeRRI(interp.OpADDI, 2, 0, 0), // dst offset
		interp.EncodeRRI(interp.OpADDI, 3, 0, flagLen),
		interp.EncodeRI(interp.OpSYSCALL, 0, 0),

		interp.EncodeRRI(interp.OpADDI, 0, 0, interp.SysLog),
		interp.EncodeRRI(interp.OpADDI, 1, 0, 0),
		interp.EncodeRRI(interp.OpADDI, 2, 0, flagLen),
		interp.EncodeRI(interp.OpSYSCALL, 0, 0),
		interp.EncodeRI(interp.OpHALT, 0, 0),
	)
	raw := module.Encode(decoded)
	sig := ed25519.Sign(priv, append([]byte("exfil"), decoded...))

	serverConn, clientConn := net.Pipe()
	go f.Serve(context.Background(), serverConn)
	defer clientConn.Close()

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindAuthenticate,
		Payload: wireproto.EncodeAuthenticate(wireproto.AuthenticatePayload{Token: "s3cr3t"}),
	})
	r := bufio.NewReader(clientConn)
	readFrame(t, r) // auth ack

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleUpload,
		Payload: wireproto.EncodeModuleUpload(wireproto.ModuleUploadPayload{ID: "exfil", Raw: raw, Signature: sig}),
	})
	uploadAck := readFrame(t, r)
	ackPayload, err := wireproto.DecodeAck(uploadAck.Payload)
	require.NoError(t, err)
	require.True(t, ackPayload.OK)

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleEnable,
		Payload: wireproto.EncodeModuleID(wireproto.ModuleIDPayload{ID: "exfil"}),
	})
	readFrame(t, r) // enable ack

	writeFrame(t, clientConn, wireproto.Frame{
		Kind:    wireproto.KindModuleExecute,
		Payload: wireproto.EncodeModuleID(wireproto.ModuleIDPayload{ID: "exfil"}),
	})
	execAck := readFrame(t, r)
	execPayload, err := wireproto.DecodeAck(execAck.Payload)
	require.NoError(t, err)
	require.True(t, execPayload.OK)

	writeFrame(t, clientConn, wireproto.Frame{Kind: wireproto.KindTelemetrySubscribe})

	telFrame := readFrame(t, r)
	require.Equal(t, wireproto.KindTelemetryFrame, telFrame.Kind)
	tel, err := wireproto.DecodeTelemetry(telFrame.Payload)
	require.NoError(t, err)
	require.True(t, bytes.Contains(tel.Log, []byte("CTF{test}")))
}
