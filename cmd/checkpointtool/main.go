// Command checkpointtool inspects and manipulates RADSAT checkpoint
// files (internal/checkpoint's manifest-plus-pages format). Adapted
// from the teacher's os/mkbootimg/main.go: a small single-purpose
// binary that validates a header, reports what it found, and can
// rewrite the payload — generalized here to a cobra command with two
// subcommands instead of mkbootimg's single convert operation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/radsat-ctf/radsat/internal/checkpoint"
	"github.com/radsat-ctf/radsat/internal/memmodel"
)

func main() {
	root := &cobra.Command{
		Use:   "checkpointtool",
		Short: "Inspect and manipulate RADSAT checkpoint files",
	}
	root.AddCommand(inspectCmd(), faultCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <checkpoint-file>",
		Short: "Print a checkpoint's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			defer f.Close()

			snap, err := checkpoint.Load(f)
			if err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			m := snap.Manifest
			fmt.Printf("created:          %s\n", m.CreatedAt.Format("2006-01-02T15:04:05Z"))
			fmt.Printf("protected pages:  %d\n", m.NumPages)
			fmt.Printf("unprotected len:  %d bytes\n", m.UnprotectedLen)
			fmt.Printf("orbit epoch:      unix nanos %d\n", m.Orbit.EpochUnixNano)
			fmt.Printf("orbit position:   (%.1f, %.1f, %.1f) m\n", m.Orbit.PX, m.Orbit.PY, m.Orbit.PZ)
			fmt.Printf("orbit velocity:   (%.3f, %.3f, %.3f) m/s\n", m.Orbit.VX, m.Orbit.VY, m.Orbit.VZ)
			fmt.Printf("fuel remaining:   %.3f m/s\n", m.Orbit.FuelMps)
			fmt.Printf("modules:          %d\n", len(m.Modules))
			for _, mod := range m.Modules {
				fmt.Printf("  - %-16s enabled=%-5v raw=%d bytes signature=%d bytes\n",
					mod.ID, mod.Enabled, len(mod.Raw), len(mod.Signature))
			}
			return nil
		},
	}
}

func faultCmd() *cobra.Command {
	var pageIdx int
	cmd := &cobra.Command{
		Use:   "fault <checkpoint-file> <output-file>",
		Short: "Copy a checkpoint with one protected page zeroed, simulating an unrecoverable page fault",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			snap, err := checkpoint.Load(in)
			in.Close()
			if err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			if pageIdx < 0 || pageIdx >= len(snap.Pages) {
				return fmt.Errorf("checkpointtool: page %d out of range (0..%d)", pageIdx, len(snap.Pages)-1)
			}
			snap.Pages[pageIdx] = make([]byte, memmodel.PageSize)

			out, err := os.Create(args[1])
			if err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			defer out.Close()

			mem := memmodel.New(snap.Manifest.NumPages, snap.Manifest.UnprotectedLen)
			defer mem.Close()
			if err := snap.Restore(mem); err != nil {
				return fmt.Errorf("checkpointtool: %w", err)
			}
			return checkpoint.Save(out, mem, snap.Manifest.Orbit.ToState(), snap.Manifest.Modules)
		},
	}
	cmd.Flags().IntVar(&pageIdx, "page", 0, "index of the protected page to zero")
	return cmd
}
