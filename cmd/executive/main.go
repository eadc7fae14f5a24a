// Command executive is the single-event-upset injector: it rendezvous
// with a running firmware process over TCP, ptrace-attaches to it, and
// periodically flips bits anywhere in its RAM at a rate driven by the
// spacecraft's current radiation region. It runs its own independent
// orbital propagator rather than sharing the firmware's in-process
// state, per spec.md §5.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radsat-ctf/radsat/internal/config"
	"github.com/radsat-ctf/radsat/internal/executive"
	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/telemetry"
)

var verbosity int

func main() {
	root := &cobra.Command{
		Use:   "executive <config-path>",
		Short: "Run the RADSAT single-event-upset injector",
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

	cfg, err := config.LoadExecutive(args[0])
	if err != nil {
		log.Error().Err(err).Msg("loading configuration")
		return err
	}

	handshake, conn, err := executive.Rendezvous(cfg.RendezvousAddr)
	if err != nil {
		log.Error().Err(err).Msg("rendezvous with firmware failed")
		return err
	}
	conn.Close()
	log.Info().Int32("pid", handshake.PID).Msg("rendezvous complete, attaching")

	// Independent propagator, seeded from this process's own config
	// rather than read from the firmware's memory, so region
	// classification tracks the real spacecraft without reading the
	// firmware's memory for anything but bit flips. The operator is
	// responsible for pointing an executive's config at the same orbit
	// the paired firmware instance was configured with.
	prop := orbit.NewPropagator(orbit.State{
		Position: orbit.Vec3{X: cfg.Orbit.PX, Y: cfg.Orbit.PY, Z: cfg.Orbit.PZ},
		Velocity: orbit.Vec3{X: cfg.Orbit.VX, Y: cfg.Orbit.VY, Z: cfg.Orbit.VZ},
		Epoch:    time.Now().UTC(),
		FuelMps:  cfg.Orbit.FuelMps,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(cfg.TickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prop.Tick(cfg.TickPeriod)
			}
		}
	}()

	inj := executive.NewInjector(handshake, executive.DefaultRegionRate, log)

	if cfg.AdminAddr != "" {
		metrics := telemetry.New()
		inj.Metrics = metrics
		go func() {
			if err := metrics.Serve(ctx, cfg.AdminAddr); err != nil {
				log.Error().Err(err).Msg("admin http server stopped")
			}
		}()
	}

	regionOf := func() orbit.Region { return prop.State().Classify() }

	if err := inj.Run(ctx, cfg.TickPeriod, regionOf); err != nil {
		log.Error().Err(err).Msg("injector stopped")
		return err
	}
	return nil
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
		With().Timestamp().Str("component", "executive").Logger()
}
