// nitro-verify checks an attestation document file against a trust-anchor
// certificate and prints the verified contents as JSON. It marshals inputs and
// outputs only; all verification lives in pkg/attest.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eyakubovich/aws-nitro-enclaves-attestation/pkg/attest"
	"github.com/eyakubovich/aws-nitro-enclaves-attestation/pkg/certs"
)

func main() {
	logger := defaultLogger("nitro-verify", os.Stderr)
	if err := newRootCmd(&logger).Execute(); err != nil {
		logger.Error().Err(err).Msg("Verification failed.")
		os.Exit(1)
	}
}

func newRootCmd(logger *zerolog.Logger) *cobra.Command {
	var (
		documentPath string
		rootPath     string
		expectPCRs   []string
		atStr        string
	)

	cmd := &cobra.Command{
		Use:   "nitro-verify --document doc.bin --root root.der",
		Short: "Verify an AWS Nitro Enclave attestation document",
		Long: `Verify an attestation document against a caller-supplied root certificate.
On success the verified document is printed as JSON: module id, digest, hex PCR
values, certificate chain summary and any optional fields. The root certificate
is never bundled; trusting a particular root is the caller's decision.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			expected, err := parseExpectedPCRs(expectPCRs)
			if err != nil {
				return err
			}
			var at time.Time
			if atStr != "" {
				if at, err = time.Parse(time.RFC3339, atStr); err != nil {
					return fmt.Errorf("invalid --at value: %w", err)
				}
			}
			return run(cmd.OutOrStdout(), logger, documentPath, rootPath, expected, at)
		},
	}

	cmd.Flags().StringVar(&documentPath, "document", "", "Path to the attestation document file")
	cmd.Flags().StringVar(&rootPath, "root", "", "Path to the trust-anchor certificate (DER or PEM)")
	cmd.Flags().StringArrayVar(&expectPCRs, "expect-pcr", nil, "Expected PCR value as index:hex (repeatable)")
	cmd.Flags().StringVar(&atStr, "at", "", "Fixed verification time, RFC 3339 (default: now)")
	_ = cmd.MarkFlagRequired("document")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func run(out io.Writer, logger *zerolog.Logger, documentPath, rootPath string, expected map[int][]byte, at time.Time) error {
	document, err := certs.ReadDocument(documentPath)
	if err != nil {
		return err
	}
	anchor, err := certs.LoadAnchor(rootPath)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("document", documentPath).
		Str("root", rootPath).
		Int("expectedPcrs", len(expected)).
		Msg("Verifying attestation document.")

	verified, err := attest.Authenticate(document, anchor, attest.AuthenticateOptions{
		ExpectedPCRs: expected,
		CurrentTime:  at,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("moduleId", verified.Document.ModuleID).
		Int("chainLength", verified.Witness.ChainLength).
		Msg("Attestation document verified.")

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(verified)
}

// parseExpectedPCRs parses repeated "index:hex" flag values.
func parseExpectedPCRs(entries []string) (map[int][]byte, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	expected := make(map[int][]byte, len(entries))
	for _, entry := range entries {
		idxStr, hexStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("invalid --expect-pcr %q: want index:hex", entry)
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("invalid --expect-pcr index %q", idxStr)
		}
		val, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --expect-pcr value for index %d: %w", idx, err)
		}
		if _, dup := expected[idx]; dup {
			return nil, fmt.Errorf("duplicate --expect-pcr index %d", idx)
		}
		expected[idx] = val
	}
	return expected, nil
}

// defaultLogger creates a logger with the given app name.
func defaultLogger(appName string, writer io.Writer) zerolog.Logger {
	logger := zerolog.New(writer).With().Timestamp().Str("app", appName).Logger()
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) == 40 {
				logger = logger.With().Str("commit", s.Value[:7]).Logger()
				break
			}
		}
	}
	return logger
}
