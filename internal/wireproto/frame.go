// Package wireproto implements the firmware wire protocol of spec.md
// §4.6: length-prefixed binary frames (u32 length || u8 kind || payload)
// over a single TCP connection per instance, with coalesced
// server-pushed telemetry so a slow client never sees more than the most
// recent state.
//
// Framing follows the same command/ack discipline the teacher's
// exer/cex/nano.go used over a serial line (doFixedCommand / getAck /
// doCountedReceive), adapted from a byte-at-a-time serial reader to a
// length-prefixed TCP reader.
package wireproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// Kind identifies a frame's payload type.
type Kind uint8

const (
	KindAuthenticate Kind = iota + 1
	KindTelemetrySubscribe
	KindManeuver
	KindModuleUpload
	KindModuleEnable
	KindModuleExecute
	KindTelemetryFrame // server-pushed
	KindCommandAck
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticate:
		return "authenticate"
	case KindTelemetrySubscribe:
		return "telemetry-subscribe"
	case KindManeuver:
		return "maneuver"
	case KindModuleUpload:
		return "module-upload"
	case KindModuleEnable:
		return "module-enable"
	case KindModuleExecute:
		return "module-execute"
	case KindTelemetryFrame:
		return "telemetry-frame"
	case KindCommandAck:
		return "command-ack"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MaxFrameSize bounds a single frame's payload, guarding against a
// hostile length prefix forcing an unbounded allocation. spec.md §6:
// "oversize payload" is an explicit protocol error kind.
const MaxFrameSize = 1 << 20 // 1 MiB

// Frame is one decoded wire message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// ReadFrame reads one frame from r: a u32 big-endian length (covering
// kind + payload), a kind byte, then that many payload bytes.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total == 0 || total > MaxFrameSize {
		return Frame{}, errs.ErrOversizePayload
	}

	kindBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, kindBuf); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, total-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Kind: Kind(kindBuf[0]), Payload: payload}, nil
}

// WriteFrame writes f to w in the same format ReadFrame consumes.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload)+1 > MaxFrameSize {
		return errs.ErrOversizePayload
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)+1))

	buf := make([]byte, 0, 5+len(f.Payload))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, byte(f.Kind))
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}

// ErrorFrame builds a KindError frame carrying a UTF-8 message, per
// spec.md §6: "Error frames carry a kind code and a UTF-8 message."
func ErrorFrame(kindCode uint8, message string) Frame {
	payload := make([]byte, 1+len(message))
	payload[0] = kindCode
	copy(payload[1:], message)
	return Frame{Kind: KindError, Payload: payload}
}
