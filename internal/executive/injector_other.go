//go:build !linux

package executive

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/radsat-ctf/radsat/internal/errs"
	"github.com/radsat-ctf/radsat/internal/orbit"
	"github.com/radsat-ctf/radsat/internal/telemetry"
)

// Injector is the non-Linux stub: ptrace-based cross-process memory
// access is Linux-specific, so every method reports
// errs.ErrExecutiveUnreachable rather than attempting a syscall the
// platform doesn't have.
type Injector struct {
	log zerolog.Logger

	Metrics *telemetry.Metrics // present for API parity with the linux build; never incremented here
}

func NewInjector(target Handshake, rates RegionRate, log zerolog.Logger) *Injector {
	return &Injector{log: log}
}

func (inj *Injector) Attach() error { return errs.ErrExecutiveUnreachable }
func (inj *Injector) Detach() error { return nil }

func (inj *Injector) Run(ctx context.Context, period time.Duration, regionOf func() orbit.Region) error {
	return errs.ErrExecutiveUnreachable
}
