//go:build linux

package executive

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/telemetry"
)

// Injector attaches to a firmware process via ptrace and, on a fixed
// cadence, pokes single-bit upsets into uniformly chosen addresses of its
// RAM at a rate driven by the spacecraft's current radiation region.
// Grounded on the
// PTRACE_ATTACH/PEEKDATA/POKEDATA sequence in
// other_examples' octoreflex isolation test and the "own a foreign
// process's memory via a Linux-specific syscall, gated by a
// //go:build linux file" shape of other_examples' dh-cli uffd_linux.go.
type Injector struct {
	target   Handshake
	rates    RegionRate
	rng      *rand.Rand
	log      zerolog.Logger
	attached bool

	Metrics *telemetry.Metrics // set by cmd/executive; nil in tests
}

// NewInjector constructs an injector for the firmware described by
// target, using rates to scale flip likelihood by region.
func NewInjector(target Handshake, rates RegionRate, log zerolog.Logger) *Injector {
	return &Injector{target: target, rates: rates, rng: rand.New(rand.NewSource(1)), log: log}
}

// Attach stops the target process and takes ownership of its memory.
// The tracee is immediately continued: ptrace's PEEK/POKE data calls do
// not require the tracee to remain stopped once attached.
func (inj *Injector) Attach() error {
	pid := int(inj.target.PID)
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("executive: ptrace attach: %w", err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("executive: wait4 after attach: %w", err)
	}
	if err := unix.PtraceCont(pid, 0); err != nil {
		return fmt.Errorf("executive: ptrace cont: %w", err)
	}
	inj.attached = true
	return nil
}

// Detach releases the traced process, leaving it running freely.
func (inj *Injector) Detach() error {
	if !inj.attached {
		return nil
	}
	inj.attached = false
	return unix.PtraceDetach(int(inj.target.PID))
}

// flipBit XORs one bit at byte offset off within the tracee's address
// space, via a read-modify-write word (ptrace operates on machine
// words, per unix.PtracePeekData/PtracePokeData).
func (inj *Injector) flipBit(off int, bit uint) error {
	pid := int(inj.target.PID)
	addr := uintptr(inj.target.BaseAddr) + uintptr(off)

	wordAddr := addr &^ 7
	byteInWord := int(addr - wordAddr)

	var word [8]byte
	if _, err := unix.PtracePeekData(pid, wordAddr, word[:]); err != nil {
		return fmt.Errorf("executive: peekdata: %w", err)
	}
	word[byteInWord] ^= 1 << bit
	if _, err := unix.PtracePokeData(pid, wordAddr, word[:]); err != nil {
		return fmt.Errorf("executive: pokedata: %w", err)
	}
	return nil
}

// Run drives the injector's timed loop (spec.md §5: "a simple timed
// loop; no shared in-process memory with the firmware"). regionOf
// reports the spacecraft's current radiation region, learned out of
// band (e.g. the firmware's own telemetry, or a parallel propagator the
// executive runs itself — RADSAT's cmd/executive runs its own copy,
// since spec.md explicitly forbids in-process shared memory between the
// two processes).
func (inj *Injector) Run(ctx context.Context, period time.Duration, regionOf func() orbit.Region) error {
	if err := inj.Attach(); err != nil {
		return err
	}
	defer inj.Detach()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			region := regionOf()
			flips := PlanFlips(inj.rng, inj.rates, region, int(inj.target.Length))
			for _, f := range flips {
				if err := inj.flipBit(f.Offset, f.Bit); err != nil {
					inj.log.Warn().Err(err).Msg("injector: flip failed")
					continue
				}
				if inj.Metrics != nil {
					inj.Metrics.BitFlipsInjected.Inc()
				}
				inj.log.Debug().Int("offset", f.Offset).Uint("bit", f.Bit).Str("region", region.String()).Msg("injected bit-flip")
			}
		}
	}
}
