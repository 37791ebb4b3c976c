package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/holdonravn/Privora-core/internal/ledger"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var ledgerDir string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "privoractl",
	Short: "Privora ledger audit CLI",
	Long: `privoractl is the offline audit tool for Privora ledger files.

It operates directly on partition, root-snapshot, and leaf-index files
without a running daemon: walk a partition's hash chain, print a
partition's published Merkle root, or emit an inclusion proof for a
single record.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ledgerDir, "dir", "data/ledger", "Ledger data directory")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rootCmdSub)
	rootCmd.AddCommand(proofCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify [partition-file ...]",
	Short: "Walk partition hash chains and report integrity",
	Long: `Verify re-hashes every line of the given partition files against the
chain recorded in them. With no arguments, every partition file in the
ledger directory is checked.

A clean exit means every line's content hash and chain pointer match;
any break or tampered line fails with the offending line number.`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	paths := args
	if len(paths) == 0 {
		var err error
		paths, err = filepath.Glob(filepath.Join(ledgerDir, "ledger-*.ndjson"))
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			return fmt.Errorf("no partition files under %s", ledgerDir)
		}
	}

	failed := 0
	for _, p := range paths {
		if err := ledger.VerifyPartition(p); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL  %s: %v\n", p, err)
			continue
		}
		fmt.Printf("OK    %s\n", p)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d partitions failed verification", failed, len(paths))
	}
	return nil
}

// ── root ─────────────────────────────────────────────────────────────────────

var rootCmdSub = &cobra.Command{
	Use:   "root <day>",
	Short: "Print the published Merkle root snapshot for a day partition",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoot,
}

func runRoot(cmd *cobra.Command, args []string) error {
	snap, err := ledger.LoadSnapshot(ledgerDir, args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ── proof ────────────────────────────────────────────────────────────────────

var proofCmd = &cobra.Command{
	Use:   "proof <day> <index>",
	Short: "Emit the inclusion proof for one record of a day partition",
	Long: `Proof rebuilds the Merkle tree from the partition's persisted leaf
index and prints the branch and root for the leaf at the given index.
The output matches the daemon's /v1/ledger/proof response, so proofs
generated offline verify against roots published by a running instance.`,
	Args: cobra.ExactArgs(2),
	RunE: runProof,
}

func runProof(cmd *cobra.Command, args []string) error {
	idx, err := strconv.Atoi(args[1])
	if err != nil || idx < 0 {
		return fmt.Errorf("index must be a non-negative integer, got %q", args[1])
	}

	proof, err := ledger.ProofFromIndex(ledgerDir, args[0], idx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the privoractl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("privoractl", version)
	},
}
