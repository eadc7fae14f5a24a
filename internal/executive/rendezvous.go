// Package executive implements the SEU (single-event-upset) injector
// process of spec.md §4.4: a separate OS process that attaches to a
// running firmware instance and pokes individual bits into its RAM by
// address, with no in-process shared memory and no synchronization with
// the firmware's own scrubber — "this is the point" (spec.md §5).
package executive

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// Handshake is what the firmware publishes to a connecting executive:
// its own PID and the address range of its RAM, learned from
// memmodel.Memory.BaseAddr/Len. This is the rendezvous spec.md §9
// assumes but leaves implementation-defined.
type Handshake struct {
	PID      int32
	BaseAddr uint64
	Length   uint64
}

const handshakeSize = 4 + 8 + 8

// SendHandshake is called by the firmware once, immediately after
// accepting the executive's rendezvous connection.
func SendHandshake(w io.Writer, h Handshake) error {
	buf := make([]byte, handshakeSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(h.PID))
	binary.BigEndian.PutUint64(buf[4:], h.BaseAddr)
	binary.BigEndian.PutUint64(buf[12:], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHandshake is called by the executive after dialing the firmware's
// rendezvous address.
func ReadHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, err
	}
	return Handshake{
		PID:      int32(binary.BigEndian.Uint32(buf[0:])),
		BaseAddr: binary.BigEndian.Uint64(buf[4:]),
		Length:   binary.BigEndian.Uint64(buf[12:]),
	}, nil
}

// Rendezvous dials addr and returns the firmware's published handshake.
func Rendezvous(addr string) (Handshake, net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return Handshake{}, nil, errs.ErrExecutiveUnreachable
	}
	h, err := ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return Handshake{}, nil, errs.ErrExecutiveUnreachable
	}
	return h, conn, nil
}
