// Command modasm assembles RADSAT module source into a majority-of-seven
// encoded, ed25519-signed module file ready for upload over the wire
// protocol (spec.md §4.1, §4.2). Adapted wholesale from the teacher's
// asm/ package structure (lexer -> two-pass assembler -> output writer),
// re-targeted from the WUT-4 CPU ISA to RADSAT's interpreter ISA.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/radsat-ctf/radsat/internal/module"
)

// file is the on-disk shape of an assembled module, for test harnesses
// and upload tooling. []byte fields use yaml.v3's default []byte
// encoding, the same way internal/checkpoint's manifest stores module
// Raw and Signature bytes.
type file struct {
	ID        string `yaml:"id"`
	Raw       []byte `yaml:"raw"`
	Signature []byte `yaml:"signature"`
}

func main() {
	var (
		id      string
		keyPath string
		outPath string
	)

	root := &cobra.Command{
		Use:   "modasm <source.asm>",
		Short: "Assemble and sign a RADSAT interpreter module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], id, keyPath, outPath)
		},
	}
	root.Flags().StringVar(&id, "id", "", "module id covered by the signature (required)")
	root.Flags().StringVar(&keyPath, "signer-key", "", "path to a base64-encoded ed25519 private key (required)")
	root.Flags().StringVar(&outPath, "out", "", "output module file (defaults to <source>.module)")
	root.MarkFlagRequired("id")
	root.MarkFlagRequired("signer-key")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(srcPath, id, keyPath, outPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("modasm: opening source: %w", err)
	}
	defer src.Close()

	words, err := assemble(src)
	if err != nil {
		return err
	}

	decoded := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(decoded[i*4:], w)
	}

	priv, err := loadSignerPrivateKey(keyPath)
	if err != nil {
		return err
	}

	raw := module.Encode(decoded)
	sig := ed25519.Sign(priv, append([]byte(id), decoded...))

	out := file{ID: id, Raw: raw, Signature: sig}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("modasm: encoding output: %w", err)
	}

	if outPath == "" {
		outPath = strings.TrimSuffix(srcPath, ".asm") + ".module"
	}
	if err := os.WriteFile(outPath, data, 0o600); err != nil {
		return fmt.Errorf("modasm: writing output: %w", err)
	}

	fmt.Fprintf(os.Stderr, "modasm: assembled %d instructions, wrote %s at %s\n", len(words), outPath, time.Now().UTC().Format(time.RFC3339))
	return nil
}

// loadSignerPrivateKey reads a base64-encoded ed25519 private key or
// seed, matching the base64 convention in internal/config's
// LoadSignerPublicKey — but this is the one place in RADSAT a private
// key is ever loaded. Firmware only ever sees the public half.
func loadSignerPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modasm: reading signer key: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("modasm: decoding signer key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("modasm: signer key wrong length %d", len(raw))
	}
}
