package wireproto

import (
	"encoding/binary"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// Payload encodings are a compact, hand-rolled binary format (spec.md
// §4.6: "the implementation's choice of encoding is free provided it
// round-trips"), in the same spirit as the teacher's serial_protocol.go
// fixed-then-counted byte layout.

func putString(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, s...)
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, errs.ErrMalformedFrame
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return "", nil, errs.ErrMalformedFrame
	}
	return string(buf[:n]), buf[n:], nil
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

func getBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, errs.ErrMalformedFrame
	}
	n := binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, errs.ErrMalformedFrame
	}
	return buf[:n], buf[n:], nil
}

// AuthenticatePayload carries the bearer token (spec.md §6: opaque
// token, <= 256 bytes).
type AuthenticatePayload struct {
	Token string
}

func EncodeAuthenticate(p AuthenticatePayload) []byte {
	return putString(nil, p.Token)
}

func DecodeAuthenticate(payload []byte) (AuthenticatePayload, error) {
	tok, _, err := getString(payload)
	if err != nil {
		return AuthenticatePayload{}, err
	}
	if len(tok) > 256 {
		return AuthenticatePayload{}, errs.ErrOversizePayload
	}
	return AuthenticatePayload{Token: tok}, nil
}

// ManeuverPayload carries an impulsive delta-v in m/s, ECI components.
type ManeuverPayload struct {
	DX, DY, DZ float64
}

func EncodeManeuver(p ManeuverPayload) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:], floatBits(p.DX))
	binary.BigEndian.PutUint64(buf[8:], floatBits(p.DY))
	binary.BigEndian.PutUint64(buf[16:], floatBits(p.DZ))
	return buf
}

func DecodeManeuver(payload []byte) (ManeuverPayload, error) {
	if len(payload) != 24 {
		return ManeuverPayload{}, errs.ErrMalformedFrame
	}
	return ManeuverPayload{
		DX: bitsFloat(binary.BigEndian.Uint64(payload[0:])),
		DY: bitsFloat(binary.BigEndian.Uint64(payload[8:])),
		DZ: bitsFloat(binary.BigEndian.Uint64(payload[16:])),
	}, nil
}

// ModuleUploadPayload carries a module id and its majority-of-seven
// encoded raw bytes plus its signature.
type ModuleUploadPayload struct {
	ID        string
	Raw       []byte
	Signature []byte
}

func EncodeModuleUpload(p ModuleUploadPayload) []byte {
	buf := putString(nil, p.ID)
	buf = putBytes(buf, p.Raw)
	buf = putBytes(buf, p.Signature)
	return buf
}

func DecodeModuleUpload(payload []byte) (ModuleUploadPayload, error) {
	id, rest, err := getString(payload)
	if err != nil {
		return ModuleUploadPayload{}, err
	}
	raw, rest, err := getBytes(rest)
	if err != nil {
		return ModuleUploadPayload{}, err
	}
	sig, _, err := getBytes(rest)
	if err != nil {
		return ModuleUploadPayload{}, err
	}
	return ModuleUploadPayload{ID: id, Raw: raw, Signature: sig}, nil
}

// ModuleIDPayload names a module id, used by both enable and execute
// commands.
type ModuleIDPayload struct {
	ID string
}

func EncodeModuleID(p ModuleIDPayload) []byte {
	return putString(nil, p.ID)
}

func DecodeModuleID(payload []byte) (ModuleIDPayload, error) {
	id, _, err := getString(payload)
	if err != nil {
		return ModuleIDPayload{}, err
	}
	return ModuleIDPayload{ID: id}, nil
}

// TelemetryPayload is the server-pushed spacecraft snapshot. Log carries
// the session's accumulated interpreter event log (spec.md §4.1: "event
// log appended to the firmware's telemetry stream") — the sole channel
// a module's `log` syscall has to reach a network client, per spec.md
// §8 scenario S5.
type TelemetryPayload struct {
	Epoch          int64
	PX, PY, PZ     float64
	VX, VY, VZ     float64
	FuelMps        float64
	Region         uint8
	Log            []byte
}

func EncodeTelemetry(p TelemetryPayload) []byte {
	buf := make([]byte, 8+8*7+1)
	binary.BigEndian.PutUint64(buf[0:], uint64(p.Epoch))
	binary.BigEndian.PutUint64(buf[8:], floatBits(p.PX))
	binary.BigEndian.PutUint64(buf[16:], floatBits(p.PY))
	binary.BigEndian.PutUint64(buf[24:], floatBits(p.PZ))
	binary.BigEndian.PutUint64(buf[32:], floatBits(p.VX))
	binary.BigEndian.PutUint64(buf[40:], floatBits(p.VY))
	binary.BigEndian.PutUint64(buf[48:], floatBits(p.VZ))
	binary.BigEndian.PutUint64(buf[56:], floatBits(p.FuelMps))
	buf[64] = p.Region
	return putBytes(buf, p.Log)
}

func DecodeTelemetry(payload []byte) (TelemetryPayload, error) {
	if len(payload) < 65 {
		return TelemetryPayload{}, errs.ErrMalformedFrame
	}
	log, _, err := getBytes(payload[65:])
	if err != nil {
		return TelemetryPayload{}, err
	}
	if len(log) == 0 {
		log = nil
	}
	return TelemetryPayload{
		Epoch:   int64(binary.BigEndian.Uint64(payload[0:])),
		PX:      bitsFloat(binary.BigEndian.Uint64(payload[8:])),
		PY:      bitsFloat(binary.BigEndian.Uint64(payload[16:])),
		PZ:      bitsFloat(binary.BigEndian.Uint64(payload[24:])),
		VX:      bitsFloat(binary.BigEndian.Uint64(payload[32:])),
		VY:      bitsFloat(binary.BigEndian.Uint64(payload[40:])),
		VZ:      bitsFloat(binary.BigEndian.Uint64(payload[48:])),
		FuelMps: bitsFloat(binary.BigEndian.Uint64(payload[56:])),
		Region:  payload[64],
		Log:     log,
	}, nil
}

// AckPayload carries a command-ack's success/failure and message.
type AckPayload struct {
	OK      bool
	Message string
}

func EncodeAck(p AckPayload) []byte {
	buf := []byte{0}
	if p.OK {
		buf[0] = 1
	}
	return putString(buf, p.Message)
}

func DecodeAck(payload []byte) (AckPayload, error) {
	if len(payload) < 1 {
		return AckPayload{}, errs.ErrMalformedFrame
	}
	ok := payload[0] != 0
	msg, _, err := getString(payload[1:])
	if err != nil {
		return AckPayload{}, err
	}
	return AckPayload{OK: ok, Message: msg}, nil
}
