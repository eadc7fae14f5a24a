// Package session implements the firmware's per-connection cooperative
// scheduler (spec.md §5): a single goroutine interleaves three logical
// tasks — protocol I/O, orbital tick plus scrubber, and module
// execution — with no task preempting another. A background goroutine
// does nothing but block on network reads and hand decoded frames to
// the scheduler over a channel; all actual state mutation happens on
// the scheduler goroutine, matching the teacher's emul/main.go
// runEmulator loop, where one goroutine drives the CPU while a second
// merely pumps bytes in and out of the UART.
package session

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/interp"
	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/radsat-ctf/radsat/internal/module"
	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/telemetry"
	"github.com/radsat-ctf/radsat/internal/wireproto"
)

// Config bundles the per-instance timing and file parameters a Session
// needs, sourced from the firmware's configuration file (spec.md §6).
type Config struct {
	TickPeriod        time.Duration
	ScrubPeriod       time.Duration
	InstructionBudget int
	FlagPath          string
	ReadTimeout       time.Duration
	ValidToken        string
}

// Firmware owns the state that survives across connections: the
// propagator, the page-redundant memory, the module table, and the
// scrubber. One Firmware instance is one CTF team's satellite; the
// proxy (internal/proxy) ensures only one connection is ever live
// against it at a time.
type Firmware struct {
	cfg      Config
	mem      *memmodel.Memory
	prop     *orbit.Propagator
	modules  *module.Table
	scrubber *memmodel.Scrubber
	host     *execHost
	log      zerolog.Logger

	ScrubberRestarted func() // set by cmd/firmware to wire checkpoint restore
	Checkpoint        func() // set by cmd/firmware; called after each acknowledged command, per spec.md §4.7 "resumes from the last acknowledged command"
	Metrics           *telemetry.Metrics // set by cmd/firmware; nil in tests that don't care
}

// NewFirmware constructs a Firmware over already-provisioned memory,
// propagator, and module table (cmd/firmware wires these up from
// configuration and, on restart, from a checkpoint).
func NewFirmware(cfg Config, mem *memmodel.Memory, prop *orbit.Propagator, modules *module.Table, log zerolog.Logger) *Firmware {
	f := &Firmware{cfg: cfg, mem: mem, prop: prop, modules: modules, log: log}
	f.host = newExecHost(cfg.FlagPath, func() uint32 { return uint32(prop.State().Epoch.Unix()) }, prop)
	f.scrubber = memmodel.NewScrubber(mem, cfg.ScrubPeriod, func(st memmodel.ScrubStats) {
		if st.PagesFaulted > 0 {
			log.Warn().Int("faulted", st.PagesFaulted).Msg("scrubber pass found faulted pages")
		}
		if f.Metrics != nil {
			f.Metrics.RecordScrubPass(st.PagesScanned, st.PagesRepaired, st.PagesFaulted)
		}
	})
	return f
}

func (f *Firmware) Memory() *memmodel.Memory      { return f.mem }
func (f *Firmware) Propagator() *orbit.Propagator { return f.prop }
func (f *Firmware) Modules() *module.Table        { return f.modules }
func (f *Firmware) Scrubber() *memmodel.Scrubber  { return f.scrubber }

// frameResult is what the I/O pump goroutine hands to the scheduler.
type frameResult struct {
	frame wireproto.Frame
	err   error
}

// Serve runs the cooperative scheduler for exactly one connection, until
// the client disconnects, ctx is cancelled, or a fatal protocol error
// occurs. It returns nil on a clean client-initiated close.
func (f *Firmware) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	if f.Metrics != nil {
		f.Metrics.LiveSessions.Inc()
		defer f.Metrics.LiveSessions.Dec()
	}

	r := bufio.NewReader(conn)
	frames := make(chan frameResult, 1)
	pump := func() {
		for {
			fr, err := wireproto.ReadFrame(r)
			frames <- frameResult{fr, err}
			if err != nil {
				return
			}
		}
	}
	go pump()

	if !f.authenticate(conn, frames) {
		return errs.ErrAuthFailed
	}

	pusher := wireproto.NewTelemetryPusher()
	tick := time.NewTicker(f.cfg.TickPeriod)
	defer tick.Stop()
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case fr := <-frames:
			if fr.err != nil {
				return nil // client disconnected or frame malformed: end session
			}
			if fr.frame.Kind == wireproto.KindTelemetrySubscribe {
				subscribed = true
				continue
			}
			f.handleCommand(conn, fr.frame)

		case <-tick.C:
			f.prop.Tick(f.cfg.TickPeriod)
			f.scrubber.Pass()
			select {
			case <-f.scrubber.Restart:
				if f.ScrubberRestarted != nil {
					f.ScrubberRestarted()
				}
			default:
			}
			if subscribed {
				pusher.Publish(f.telemetrySnapshot())
				if state, ok := pusher.Drain(); ok {
					_ = wireproto.WriteFrame(conn, wireproto.Frame{
						Kind:    wireproto.KindTelemetryFrame,
						Payload: wireproto.EncodeTelemetry(state),
					})
				}
			}
		}
	}
}

func (f *Firmware) authenticate(conn net.Conn, frames <-chan frameResult) bool {
	fr := <-frames
	if fr.err != nil || fr.frame.Kind != wireproto.KindAuthenticate {
		_ = wireproto.WriteFrame(conn, wireproto.ErrorFrame(uint8(wireproto.KindAuthenticate), "expected authenticate frame"))
		return false
	}
	auth, err := wireproto.DecodeAuthenticate(fr.frame.Payload)
	if err != nil || auth.Token != f.cfg.ValidToken {
		_ = wireproto.WriteFrame(conn, wireproto.ErrorFrame(uint8(wireproto.KindAuthenticate), "auth failed"))
		return false
	}
	_ = wireproto.WriteFrame(conn, wireproto.Frame{
		Kind:    wireproto.KindCommandAck,
		Payload: wireproto.EncodeAck(wireproto.AckPayload{OK: true}),
	})
	return true
}

func (f *Firmware) telemetrySnapshot() wireproto.TelemetryPayload {
	st := f.prop.State()
	return wireproto.TelemetryPayload{
		Epoch:   st.Epoch.Unix(),
		PX:      st.Position.X,
		PY:      st.Position.Y,
		PZ:      st.Position.Z,
		VX:      st.Velocity.X,
		VY:      st.Velocity.Y,
		VZ:      st.Velocity.Z,
		FuelMps: st.FuelMps,
		Region:  uint8(st.Classify()),
		Log:     f.host.Log(),
	}
}

func (f *Firmware) ack(conn net.Conn, err error) {
	payload := wireproto.AckPayload{OK: err == nil}
	if err != nil {
		payload.Message = err.Error()
	}
	_ = wireproto.WriteFrame(conn, wireproto.Frame{Kind: wireproto.KindCommandAck, Payload: wireproto.EncodeAck(payload)})
	if err == nil && f.Checkpoint != nil {
		f.Checkpoint()
	}
}

// handleCommand is the protocol-I/O task's body: decode, apply, ack.
// Module execution runs synchronously here, bounded by
// cfg.InstructionBudget, matching spec.md §5's "inflight module
// execution is aborted at the next interpreter budget yield" — since
// the VM already enforces the budget internally, a single bounded call
// is the yield point.
func (f *Firmware) handleCommand(conn net.Conn, fr wireproto.Frame) {
	switch fr.Kind {
	case wireproto.KindManeuver:
		m, err := wireproto.DecodeManeuver(fr.Payload)
		if err != nil {
			f.ack(conn, err)
			return
		}
		err = f.prop.ApplyManeuver(orbit.Vec3{X: m.DX, Y: m.DY, Z: m.DZ})
		f.ack(conn, err)

	case wireproto.KindModuleUpload:
		up, err := wireproto.DecodeModuleUpload(fr.Payload)
		if err != nil {
			f.ack(conn, err)
			return
		}
		_, err = f.modules.Upload(up.ID, up.Raw, up.Signature)
		if f.Metrics != nil && err == nil {
			f.Metrics.ModulesUploaded.Inc()
		}
		f.ack(conn, err)

	case wireproto.KindModuleEnable:
		id, err := wireproto.DecodeModuleID(fr.Payload)
		if err != nil {
			f.ack(conn, err)
			return
		}
		f.ack(conn, f.modules.Enable(id.ID))

	case wireproto.KindModuleExecute:
		id, err := wireproto.DecodeModuleID(fr.Payload)
		if err != nil {
			f.ack(conn, err)
			return
		}
		decoded, err := f.modules.Dispatch(id.ID)
		if err != nil {
			f.ack(conn, err)
			return
		}
		vm := interp.New(decoded, f.host)
		runErr := vm.Run(f.cfg.InstructionBudget)
		if f.Metrics != nil {
			outcome := "ok"
			if runErr != nil {
				outcome = "fault"
			}
			f.Metrics.ModulesExecuted.WithLabelValues(outcome).Inc()
		}
		f.ack(conn, runErr)

	default:
		_ = wireproto.WriteFrame(conn, wireproto.ErrorFrame(uint8(fr.Kind), "unknown command"))
	}
}
