// Package proxy implements the connection-serializing front door of
// spec.md §4.8: it accepts a client, reads the initial authentication
// frame, resolves the carried team token to a downstream firmware
// instance, and pipes bytes both directions — rejecting a second
// concurrent connection to an instance that already has one live.
//
// Grounded on the teacher's exer/cex/main.go submain()/session-setup
// shape (accept, negotiate, then hand off to a byte-pump) and
// nya3jp-tast-tests' servo/proxy.go Proxy type, which owns a forwarded
// connection and a host mapping.
package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/radsat-ctf/radsat/internal/telemetry"
	"github.com/radsat-ctf/radsat/internal/wireproto"
)

// Table maps an opaque team token to the address of that team's
// firmware instance. Instance lifecycle (spawn on demand, reap on
// disconnect) is delegated to a node manager external to this package,
// per spec.md §4.8 — the proxy only ever sees addresses.
type Table map[string]string

// Proxy fronts every instance in its Table, enforcing at most one live
// connection per instance.
type Proxy struct {
	table Table
	log   zerolog.Logger

	mu   sync.Mutex
	busy map[string]bool // instance address -> currently forwarding

	DialTimeout time.Duration
	Metrics     *telemetry.Metrics // set by cmd/proxy; nil in tests. LiveSessions here counts active proxied pipes.
}

// New constructs a Proxy over a static token->instance table.
func New(table Table, log zerolog.Logger) *Proxy {
	return &Proxy{
		table:       table,
		log:         log,
		busy:        make(map[string]bool),
		DialTimeout: 5 * time.Second,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails. Each connection is handled on its own goroutine — spec.md §5:
// "one task per accepted front-end connection, one task per downstream
// pipe direction."
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
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
				return err
			}
		}
		go p.handleConn(ctx, conn)
	}
}

func (p *Proxy) handleConn(ctx context.Context, front net.Conn) {
	defer front.Close()
	sessionID := uuid.NewString()
	log := p.log.With().Str("session", sessionID).Logger()

	r := bufio.NewReader(front)
	fr, err := wireproto.ReadFrame(r)
	if err != nil || fr.Kind != wireproto.KindAuthenticate {
		_ = wireproto.WriteFrame(front, wireproto.ErrorFrame(uint8(wireproto.KindAuthenticate), "expected authenticate frame"))
		return
	}
	auth, err := wireproto.DecodeAuthenticate(fr.Payload)
	if err != nil {
		_ = wireproto.WriteFrame(front, wireproto.ErrorFrame(uint8(wireproto.KindAuthenticate), "malformed authenticate frame"))
		return
	}

	instance, ok := p.table[auth.Token]
	if !ok {
		_ = wireproto.WriteFrame(front, wireproto.ErrorFrame(uint8(wireproto.KindAuthenticate), "unknown token"))
		log.Warn().Msg("proxy: auth rejected, unknown token")
		return
	}

	if !p.acquire(instance) {
		_ = wireproto.WriteFrame(front, wireproto.ErrorFrame(uint8(wireproto.KindError), "instance busy"))
		log.Warn().Str("instance", instance).Msg("proxy: rejected, instance busy")
		return
	}
	defer p.release(instance)

	dialer := net.Dialer{Timeout: p.DialTimeout}
	back, err := dialer.DialContext(ctx, "tcp", instance)
	if err != nil {
		_ = wireproto.WriteFrame(front, wireproto.ErrorFrame(uint8(wireproto.KindError), "instance unreachable"))
		log.Error().Err(err).Str("instance", instance).Msg("proxy: dial failed")
		return
	}
	defer back.Close()

	// Re-emit the authenticate frame the backend expects, since this
	// proxy consumed it off the wire already.
	if err := wireproto.WriteFrame(back, fr); err != nil {
		log.Error().Err(err).Msg("proxy: forwarding authenticate frame failed")
		return
	}

	log.Info().Str("instance", instance).Msg("proxy: session established")
	pipe(ctx, r, front, back)
}

func (p *Proxy) acquire(instance string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[instance] {
		return false
	}
	p.busy[instance] = true
	if p.Metrics != nil {
		p.Metrics.LiveSessions.Inc()
	}
	return true
}

func (p *Proxy) release(instance string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.busy, instance)
	if p.Metrics != nil {
		p.Metrics.LiveSessions.Dec()
	}
}

// pipe copies bytes in both directions until either side closes or ctx
// is cancelled. front's already-buffered reader (frontR) is used so
// bytes already pulled off the wire during authentication aren't lost.
func pipe(ctx context.Context, frontR io.Reader, front, back net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(back, frontR)
		back.Close()
		done <- struct{}{}
	}()
	go func() {
		io.Copy(front, back)
		front.Close()
		done <- struct{}{}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	<-done
}
