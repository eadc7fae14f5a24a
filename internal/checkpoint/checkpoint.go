// Package checkpoint snapshots and restores firmware state after
// unrecoverable corruption, per spec.md §4.7: the protected region, the
// orbital state, and the module table (with each module's enabled bit but
// without its verified bit, which a checkpoint never records).
//
// The file format is a small YAML manifest (sizes, module metadata,
// orbital state) followed by the raw majority-valid bytes of every
// protected page, mirroring the teacher's os/mkbootimg: a header
// describing the payload, then the payload itself, round-tripped
// losslessly.
package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/radsat-ctf/radsat/internal/orbit"
)

// ModuleSnapshot captures a module's checkpointed fields. Verified is
// deliberately absent: a checkpoint never records it. cmd/firmware
// restores modules through module.Table.Upload, which re-runs the
// signature check, so a restored module is verified exactly when its
// signature is valid.
type ModuleSnapshot struct {
	ID        string `yaml:"id"`
	Raw       []byte `yaml:"raw"`
	Signature []byte `yaml:"signature"`
	Enabled   bool   `yaml:"enabled"`
}

// Manifest is the checkpoint's YAML header.
type Manifest struct {
	CreatedAt      time.Time        `yaml:"created_at"`
	NumPages       int              `yaml:"num_pages"`
	UnprotectedLen int              `yaml:"unprotected_len"`
	Orbit          OrbitSnapshot    `yaml:"orbit"`
	Modules        []ModuleSnapshot `yaml:"modules"`
}

// OrbitSnapshot captures the propagator's state vector.
type OrbitSnapshot struct {
	EpochUnixNano int64   `yaml:"epoch_unix_nano"`
	PX            float64 `yaml:"px"`
	PY            float64 `yaml:"py"`
	PZ            float64 `yaml:"pz"`
	VX            float64 `yaml:"vx"`
	VY            float64 `yaml:"vy"`
	VZ            float64 `yaml:"vz"`
	FuelMps       float64 `yaml:"fuel_mps"`
}

func ToOrbitSnapshot(s orbit.State) OrbitSnapshot {
	return OrbitSnapshot{
		EpochUnixNano: s.Epoch.UnixNano(),
		PX: s.Position.X, PY: s.Position.Y, PZ: s.Position.Z,
		VX: s.Velocity.X, VY: s.Velocity.Y, VZ: s.Velocity.Z,
		FuelMps: s.FuelMps,
	}
}

func (o OrbitSnapshot) ToState() orbit.State {
	return orbit.State{
		Position: orbit.Vec3{X: o.PX, Y: o.PY, Z: o.PZ},
		Velocity: orbit.Vec3{X: o.VX, Y: o.VY, Z: o.VZ},
		Epoch:    time.Unix(0, o.EpochUnixNano).UTC(),
		FuelMps:  o.FuelMps,
	}
}

// Save writes a checkpoint of mem's protected region, the orbital state,
// and the module table to w.
func Save(w io.Writer, mem *memmodel.Memory, orbitState orbit.State, modules []ModuleSnapshot) error {
	m := Manifest{
		CreatedAt:      time.Now().UTC(),
		NumPages:       mem.NumPages(),
		UnprotectedLen: mem.UnprotectedLen(),
		Orbit:          ToOrbitSnapshot(orbitState),
		Modules:        modules,
	}

	pages := make([][]byte, mem.NumPages())
	for i := 0; i < mem.NumPages(); i++ {
		val, err := mem.ReadPage(i)
		if err != nil {
			// A page that's faulted at checkpoint time has no clean
			// majority; persist zeroes rather than fail the checkpoint
			// outright — restart will still recover everything else.
			val = make([]byte, memmodel.PageSize)
		}
		pages[i] = val
	}

	yamlBytes, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(yamlBytes)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(yamlBytes); err != nil {
		return err
	}
	for _, p := range pages {
		if _, err := bw.Write(p); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Snapshot is a loaded checkpoint ready to restore into fresh memory.
type Snapshot struct {
	Manifest Manifest
	Pages    [][]byte // one PageSize slice per protected page
}

// Load reads and validates a checkpoint written by Save.
func Load(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading manifest length: %v", errs.ErrCheckpointCorrupt, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	yamlBytes := make([]byte, n)
	if _, err := io.ReadFull(br, yamlBytes); err != nil {
		return nil, fmt.Errorf("%w: reading manifest: %v", errs.ErrCheckpointCorrupt, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(yamlBytes, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", errs.ErrCheckpointCorrupt, err)
	}

	pages := make([][]byte, m.NumPages)
	for i := range pages {
		buf := make([]byte, memmodel.PageSize)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: reading page %d: %v", errs.ErrCheckpointCorrupt, i, err)
		}
		pages[i] = buf
	}

	return &Snapshot{Manifest: m, Pages: pages}, nil
}

// Restore writes every page of the snapshot back into mem.
func (s *Snapshot) Restore(mem *memmodel.Memory) error {
	if s.Manifest.NumPages != mem.NumPages() {
		return fmt.Errorf("%w: page count mismatch: checkpoint has %d, memory has %d",
			errs.ErrCheckpointCorrupt, s.Manifest.NumPages, mem.NumPages())
	}
	for i, p := range s.Pages {
		mem.WritePage(i, p)
	}
	return nil
}
