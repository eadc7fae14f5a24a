package module

import (
	"crypto/ed25519"
	"sync"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/memmodel"
)

// Record is a module's tagged state, per spec.md's design note "module
// table as tagged records, not a class hierarchy": verified and enabled
// are explicit, separately-homed fields, never co-located in one
// abstraction that would let a single write flip both.
//
// ID, Raw, Decoded, Signature, and SignerPubKey are immutable once the
// record is created and are ordinary Go fields held outside the
// simulated RAM: they are not stored on protected pages, so the scrubber
// never covers them and injected bit-flips never reach them. Only the
// Enabled and Verified booleans live in the simulated RAM, each with its
// own page/byte home, because those are the two bits the challenge's
// invariants are about.
type Record struct {
	ID           string
	Raw          []byte
	Decoded      []byte
	Signature    []byte
	SignerPubKey ed25519.PublicKey

	mem            *memmodel.Memory
	enabledPage    int // protected page index holding the Enabled byte
	verifiedOffset int // unprotected byte offset holding the Verified byte
}

// Enabled reports whether an explicit enable command has been issued for
// this module. Stored on a protected, redundant page: a stray bit flip
// here is corrected by the next scrubber pass, unlike Verified.
func (r *Record) Enabled() bool {
	data, err := r.mem.ReadPage(r.enabledPage)
	if err != nil {
		// A faulted enable page reads as disabled until the scrubber
		// (or a checkpoint restart) repairs it.
		return false
	}
	return data[0]&0x01 != 0
}

// SetEnabled flips the protected Enabled byte. spec.md §4.2: enabling
// does not require verification.
func (r *Record) SetEnabled(v bool) {
	data := make([]byte, memmodel.PageSize)
	if v {
		data[0] = 0x01
	}
	r.mem.WritePage(r.enabledPage, data)
}

// Verified reads the live value of the unprotected Verified byte. It is
// deliberately re-read on every call, never cached, per spec.md §4.2's
// load-bearing ordering requirement: "verified is re-read on each
// dispatch, never cached." The low-order bit is the flag; a stray
// bit-flip that sets it is indistinguishable from a legitimate verify.
func (r *Record) Verified() bool {
	b := r.mem.ReadUnprotected(r.verifiedOffset, 1)
	return b[0]&0x01 != 0
}

func (r *Record) setVerified(v bool) {
	b := byte(0)
	if v {
		b = 0x01
	}
	r.mem.WriteUnprotected(r.verifiedOffset, []byte{b})
}

// Table owns every uploaded module for one firmware instance and the
// pinned signer public key used to verify them.
type Table struct {
	mu      sync.Mutex
	records map[string]*Record

	mem     *memmodel.Memory
	pages   *memmodel.UnprotectedAllocator
	nextPg  int
	signer  ed25519.PublicKey
}

// NewTable constructs an empty module table bound to mem and verifying
// against the given pinned signer key. spec.md §9: "the signer public
// key ... [is] process-wide immutable after init; load once, treat as
// read-only" — Table.signer is set once here and never reassigned.
func NewTable(mem *memmodel.Memory, signer ed25519.PublicKey) *Table {
	return &Table{
		records: make(map[string]*Record),
		mem:     mem,
		pages:   memmodel.NewUnprotectedAllocator(mem),
		signer:  signer,
	}
}

// Upload decodes raw (majority-of-seven), records the module under the
// caller-supplied id, and attempts verification immediately, mirroring a
// real upload where the signature check runs right after decode. The id
// is chosen by the uploader (not the server) because the signature
// covers id||decoded_bytes, per spec.md §4.2 — the signer must know the
// id before it can sign. Returns errs.ErrDecodeShort if raw's length is
// not a multiple of 7.
func (t *Table) Upload(id string, raw, signature []byte) (*Record, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[id]; exists {
		return nil, errs.ErrDuplicateModule
	}

	off, err := t.pages.Alloc(1)
	if err != nil {
		return nil, err
	}
	pageIdx := t.nextPg
	t.nextPg++
	if pageIdx >= t.mem.NumPages() {
		return nil, errs.ErrOversizePayload
	}

	rec := &Record{
		ID:             id,
		Raw:            raw,
		Decoded:        decoded,
		Signature:      signature,
		SignerPubKey:   t.signer,
		mem:            t.mem,
		enabledPage:    pageIdx,
		verifiedOffset: off,
	}
	rec.SetEnabled(false)
	rec.setVerified(false)

	if verifySignature(t.signer, rec.ID, decoded, signature) {
		rec.setVerified(true)
	}

	t.records[rec.ID] = rec
	return rec, nil
}

// Enable flips the Enabled bit for id. spec.md §4.2: does not require
// verification.
func (t *Table) Enable(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	if !ok {
		return errs.ErrNoSuchModule
	}
	rec.SetEnabled(true)
	return nil
}

// Get returns the record for id, if any.
func (t *Table) Get(id string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id]
	return rec, ok
}

// All returns every uploaded module's record, for checkpointing
// (internal/checkpoint) and inspection tooling (cmd/checkpointtool).
func (t *Table) All() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// Dispatch implements the gate of spec.md §4.2's Execute operation: it
// re-reads Verified live (never cached) and checks Enabled, in that
// order, returning the decoded bytes ready for the interpreter only if
// both hold at this instant. Note the order matters for the exploit:
// Enabled is checked whether or not Verified just flipped, because both
// reads happen right here, back to back, on every call.
func (t *Table) Dispatch(id string) ([]byte, error) {
	rec, ok := t.Get(id)
	if !ok {
		return nil, errs.ErrNoSuchModule
	}
	if !rec.Verified() {
		return nil, errs.ErrNotVerified
	}
	if !rec.Enabled() {
		return nil, errs.ErrNotEnabled
	}
	return rec.Decoded, nil
}

// verifySignature checks an ed25519 signature over id||decoded against
// pub, per spec.md §4.2.
func verifySignature(pub ed25519.PublicKey, id string, decoded, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	msg := append([]byte(id), decoded...)
	return ed25519.Verify(pub, msg, signature)
}
