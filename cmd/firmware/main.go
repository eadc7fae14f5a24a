// Command firmware runs one RADSAT satellite instance: the single
// connection-serializing TCP server a team's proxy session is piped
// into, plus the rendezvous listener the executive process attaches
// through. Structured as a single cobra root command taking one
// positional config path, per spec.md §6 — grounded on the teacher's
// flag-based single-binary CLI shape (emul/main.go) generalized to
// cobra+viper the way virtengine's daemons are built.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radsat-ctf/radsat/internal/checkpoint"
	"github.com/radsat-ctf/radsat/internal/config"
	"github.com/radsat-ctf/radsat/internal/executive"
	"github.com/radsat-ctf/radsat/internal/memmodel"
	"github.com/radsat-ctf/radsat/internal/module"
	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/session"
	"github.com/radsat-ctf/radsat/internal/telemetry"
)

var verbosity int

func main() {
	root := &cobra.Command{
		Use:   "firmware <config-path>",
		Short: "Run a RADSAT satellite firmware instance",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger(verbosity)

	cfg, err := config.LoadFirmware(args[0])
	if err != nil {
		log.Error().Err(err).Msg("loading configuration")
		return err
	}

	signer, err := config.LoadSignerPublicKey(cfg.SignerPublicKeyPath)
	if err != nil {
		log.Error().Err(err).Msg("loading signer public key")
		return err
	}

	mem := memmodel.New(cfg.NumPages, cfg.UnprotectedLen)
	defer mem.Close()

	prop := orbit.NewPropagator(orbit.State{
		Position: orbit.Vec3{X: cfg.Orbit.PX, Y: cfg.Orbit.PY, Z: cfg.Orbit.PZ},
		Velocity: orbit.Vec3{X: cfg.Orbit.VX, Y: cfg.Orbit.VY, Z: cfg.Orbit.VZ},
		Epoch:    time.Now().UTC(),
		FuelMps:  cfg.Orbit.FuelMps,
	})

	modules := module.NewTable(mem, signer)
	restoreCheckpoint(cfg.CheckpointPath, mem, modules, log)

	sessCfg := session.Config{
		TickPeriod:        cfg.TickPeriod,
		ScrubPeriod:       cfg.ScrubPeriod,
		InstructionBudget: cfg.InstructionBudget,
		FlagPath:          cfg.FlagPath,
		ValidToken:        cfg.Token,
	}
	fw := session.NewFirmware(sessCfg, mem, prop, modules, log)

	metrics := telemetry.New()
	fw.Metrics = metrics
	fw.Checkpoint = func() {
		if err := saveCheckpoint(cfg.CheckpointPath, mem, prop, modules); err != nil {
			log.Error().Err(err).Msg("checkpoint save after acknowledged command failed")
		}
	}
	fw.ScrubberRestarted = func() {
		metrics.CheckpointRestarts.Inc()
		log.Warn().Msg("scrubber fault threshold exceeded, restoring last checkpoint")
		restoreCheckpoint(cfg.CheckpointPath, mem, modules, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if cfg.AdminAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.AdminAddr); err != nil {
				log.Error().Err(err).Msg("admin http server stopped")
			}
		}()
	}

	if cfg.ExecutiveRendezvousAddr != "" {
		go serveRendezvous(ctx, cfg.ExecutiveRendezvousAddr, mem, log)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Error().Err(err).Msg("listen failed")
		return err
	}
	defer ln.Close()
	log.Info().Str("addr", cfg.ListenAddr).Msg("firmware listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Error().Err(err).Msg("accept failed")
				return err
			}
		}
		if err := fw.Serve(ctx, conn); err != nil {
			log.Warn().Err(err).Msg("session ended with error")
		}
	}
}

// serveRendezvous accepts executive rendezvous connections until ctx is
// cancelled and, on each, publishes this process's PID and RAM address
// range, per spec.md §9's cross-process attach requirement.
func serveRendezvous(ctx context.Context, addr string, mem *memmodel.Memory, log zerolog.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Msg("rendezvous listen failed")
		return
	}
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h := executive.Handshake{
			PID:      int32(os.Getpid()),
			BaseAddr: uint64(mem.BaseAddr()),
			Length:   uint64(mem.Len()),
		}
		if err := executive.SendHandshake(conn, h); err != nil {
			log.Error().Err(err).Msg("rendezvous handshake failed")
		}
		conn.Close()
	}
}

// restoreCheckpoint loads a prior checkpoint if one exists, restoring
// both the protected memory region and the module table. verified is
// never part of a checkpoint: each module is restored through
// Table.Upload, which re-runs the signature check, so a restored module
// is verified exactly when its signature is valid. A module already in
// the table is rejected by Upload as a duplicate and left as it is.
func restoreCheckpoint(path string, mem *memmodel.Memory, modules *module.Table, log zerolog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Info().Str("path", path).Msg("no checkpoint to restore, starting fresh")
		return
	}
	defer f.Close()

	snap, err := checkpoint.Load(f)
	if err != nil {
		log.Warn().Err(err).Msg("checkpoint load failed, starting fresh")
		return
	}
	if err := snap.Restore(mem); err != nil {
		log.Warn().Err(err).Msg("checkpoint restore failed, starting fresh")
		return
	}
	for _, ms := range snap.Manifest.Modules {
		rec, err := modules.Upload(ms.ID, ms.Raw, ms.Signature)
		if err != nil {
			log.Warn().Err(err).Str("module", ms.ID).Msg("checkpoint module restore failed")
			continue
		}
		if ms.Enabled {
			rec.SetEnabled(true)
		}
	}
	log.Info().Int("modules", len(snap.Manifest.Modules)).Msg("restored firmware state from checkpoint")
}

func saveCheckpoint(path string, mem *memmodel.Memory, prop *orbit.Propagator, modules *module.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records := modules.All()
	snaps := make([]checkpoint.ModuleSnapshot, len(records))
	for i, rec := range records {
		snaps[i] = checkpoint.ModuleSnapshot{
			ID:        rec.ID,
			Raw:       rec.Raw,
			Signature: rec.Signature,
			Enabled:   rec.Enabled(),
		}
	}
	return checkpoint.Save(f, mem, prop.State(), snaps)
}

func newLogger(verbosity int) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case verbosity >= 2:
		level = zerolog.TraceLevel
	case verbosity == 1:
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("component", "firmware").Logger()
}
