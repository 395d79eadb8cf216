package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"proteinml/align"
	"proteinml/config"
	"proteinml/sequence"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	in         string
	scheme     align.Scheme
	cfg        *config.Config
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func newRootCmd() *cobra.Command {
	opts := &options{scheme: align.DefaultScheme}

	rootCmd := &cobra.Command{
		Use:           "seqtool",
		Short:         "Align, compare and classify protein sequences from the command line",
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "service config file <YAML> providing defaults")
	flags.StringVarP(&opts.in, "in", "i", "", "input file of sequences <FASTA>")
	flags.Float64Var(&opts.scheme.Match, "match", align.DefaultScheme.Match, "score of identical residues")
	flags.Float64Var(&opts.scheme.Mismatch, "mismatch", align.DefaultScheme.Mismatch, "score of differing residues")
	flags.Float64Var(&opts.scheme.GapOpen, "gap-open", align.DefaultScheme.GapOpen, "score of the first position of a gap")
	flags.Float64Var(&opts.scheme.GapExtend, "gap-extend", align.DefaultScheme.GapExtend, "score of every further gap position")

	rootCmd.AddCommand(
		newNormalizeCmd(opts),
		newAlignCmd(opts),
		newSimilarityCmd(opts),
		newKmerCmd(opts),
		newPredictCmd(opts),
	)
	return rootCmd
}

// load reads the config file when given. Scoring flags set on the command
// line win over the file.
func (o *options) load(cmd *cobra.Command) error {
	o.cfg = config.Default()
	if o.configPath == "" {
		return nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg

	flags := cmd.Flags()
	scheme := cfg.Align.Scheme()
	if !flags.Changed("match") {
		o.scheme.Match = scheme.Match
	}
	if !flags.Changed("mismatch") {
		o.scheme.Mismatch = scheme.Mismatch
	}
	if !flags.Changed("gap-open") {
		o.scheme.GapOpen = scheme.GapOpen
	}
	if !flags.Changed("gap-extend") {
		o.scheme.GapExtend = scheme.GapExtend
	}
	return nil
}

// records returns the sequences named by --in, or args as anonymous records.
// "-" reads FASTA from stdin.
func (o *options) records(cmd *cobra.Command, args []string) ([]sequence.Record, error) {
	if o.in == "" {
		records := make([]sequence.Record, len(args))
		for i, a := range args {
			records[i] = sequence.Record{ID: fmt.Sprintf("seq%d", i+1), Seq: sequence.Normalize(a)}
		}
		return records, nil
	}

	var r io.Reader
	if o.in == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(o.in)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return sequence.ReadFasta(r)
}

func nonEmpty(records []sequence.Record) error {
	var empty []string
	for _, r := range records {
		if r.Seq == "" {
			empty = append(empty, r.ID)
		}
	}
	if len(empty) > 0 {
		return fmt.Errorf("empty sequence: %s", strings.Join(empty, ", "))
	}
	return nil
}
