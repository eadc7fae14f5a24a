// Command proxy runs the connection-serializing front door that sits
// between CTF teams and their firmware instances: one TCP listener,
// one token->instance table, at most one live connection per instance.
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

	"github.com/radsat-ctf/radsat/internal/config"
	"github.com/radsat-ctf/radsat/internal/proxy"
	"github.com/radsat-ctf/radsat/internal/telemetry"
)

var verbosity int

func main() {
	root := &cobra.Command{
		Use:   "proxy <config-path>",
		Short: "Run the RADSAT connection-serializing proxy",
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

	cfg, err := config.LoadProxy(args[0])
	if err != nil {
		log.Error().Err(err).Msg("loading configuration")
		return err
	}

	p := proxy.New(proxy.Table(cfg.Instances), log)

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
		metrics := telemetry.New()
		p.Metrics = metrics
		go func() {
			if err := metrics.Serve(ctx, cfg.AdminAddr); err != nil {
				log.Error().Err(err).Msg("admin http server stopped")
			}
		}()
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Error().Err(err).Msg("listen failed")
		return err
	}
	defer ln.Close()
	log.Info().Str("addr", cfg.ListenAddr).Int("instances", len(cfg.Instances)).Msg("proxy listening")

	if err := p.Serve(ctx, ln); err != nil {
		log.Error().Err(err).Msg("proxy serve stopped")
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
		With().Timestamp().Str("component", "proxy").Logger()
}
