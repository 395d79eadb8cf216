package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proteinml/align"
	"proteinml/ml"
	"proteinml/sequence"
)

func newNormalizeCmd(opts *options) *cobra.Command {
	var legacy, validate bool
	cmd := &cobra.Command{
		Use:     "normalize [sequence...]",
		Short:   "Clean raw sequences and print them as FASTA",
		Example: "  seqtool normalize \">sp|P1 test\nmkv lq\"\n  seqtool normalize -i proteins.fa --validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}
			if legacy && opts.in == "" {
				for i, a := range args {
					records[i].Seq = sequence.NormalizeLegacy(a)
				}
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, ">%s\n%s\n", r.ID, r.Seq)
				if !validate {
					continue
				}
				if bad := sequence.Validate(r.Seq); len(bad) > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: non-standard residues %q\n", r.ID, string(bad))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&legacy, "legacy", false, "strip whitespace before headers, as stored results did")
	cmd.Flags().BoolVar(&validate, "validate", false, "report residues outside the 20 standard amino acids")
	return cmd
}

func newAlignCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "align [seq1] [seq2]",
		Short:   "Print the optimal global alignment of two sequences",
		Example: "  seqtool align GATTACA GCATGCU\n  seqtool align -i pair.fa --gap-open -10 --gap-extend -1",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}
			if len(records) != 2 {
				return fmt.Errorf("align needs exactly 2 sequences, got %d", len(records))
			}
			if err := nonEmpty(records); err != nil {
				return err
			}
			a, b := records[0], records[1]
			if err := align.CheckSize(len([]rune(a.Seq)), len([]rune(b.Seq)), opts.cfg.Align.MaxCells); err != nil {
				return err
			}

			aln, err := align.Global(a.Seq, b.Seq, opts.scheme)
			if err != nil {
				return err
			}
			width := len(a.ID)
			if len(b.ID) > width {
				width = len(b.ID)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-*s %s\n", width, a.ID, aln.Seq1)
			fmt.Fprintf(out, "%-*s %s\n", width, "", aln.Midline())
			fmt.Fprintf(out, "%-*s %s\n", width, b.ID, aln.Seq2)
			fmt.Fprintf(out, "score=%g length=%d identity=%.3f gaps=%d similarity=%.4f scheme=%s\n",
				aln.Score, aln.Length(), aln.Identity(), aln.Gaps(),
				align.Similarity(aln.Score, len([]rune(a.Seq)), len([]rune(b.Seq))), opts.scheme)
			return nil
		},
	}
}

func newSimilarityCmd(opts *options) *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "similarity [sequence...]",
		Short: "Score every pair of sequences and print a similarity table",
		Long: `Aligns every pair of input sequences concurrently and prints one
tab-separated line per pair: both ids, the similarity in [0,1] and the raw score.`,
		Example: "  seqtool similarity -i family.fa --workers 8",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}
			if len(records) < 2 {
				return errors.New("similarity needs at least 2 sequences")
			}
			if err := nonEmpty(records); err != nil {
				return err
			}

			type ids struct{ a, b int }
			var (
				pairs []align.Pair
				index []ids
			)
			for i := range records {
				for j := i + 1; j < len(records); j++ {
					if err := align.CheckSize(len([]rune(records[i].Seq)), len([]rune(records[j].Seq)), opts.cfg.Align.MaxCells); err != nil {
						return fmt.Errorf("%s/%s: %w", records[i].ID, records[j].ID, err)
					}
					pairs = append(pairs, align.Pair{Seq1: records[i].Seq, Seq2: records[j].Seq})
					index = append(index, ids{i, j})
				}
			}

			if workers <= 0 {
				workers = opts.cfg.Align.Workers
			}
			alignments, err := align.AlignAll(cmd.Context(), pairs, opts.scheme, workers)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "seq1\tseq2\tsimilarity\tscore")
			for k, aln := range alignments {
				a, b := records[index[k].a], records[index[k].b]
				sim := align.Similarity(aln.Score, len([]rune(a.Seq)), len([]rune(b.Seq)))
				fmt.Fprintf(tw, "%s\t%s\t%.4f\t%g\n", a.ID, b.ID, sim, aln.Score)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent alignments (config or GOMAXPROCS when 0)")
	return cmd
}

func newKmerCmd(opts *options) *cobra.Command {
	var k, dim int
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "kmer [sequence]",
		Short:   "Print the k-mer count vector of a sequence",
		Example: "  seqtool kmer MKVLQMKV -k 2\n  seqtool kmer -i protein.fa --json",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}
			if len(records) != 1 {
				return fmt.Errorf("kmer needs exactly 1 sequence, got %d", len(records))
			}
			if err := nonEmpty(records); err != nil {
				return err
			}
			if k <= 0 {
				k = opts.cfg.ML.K
			}
			if dim <= 0 {
				dim = opts.cfg.ML.Dim
			}

			seq := records[0].Seq
			vec := ml.Vectorize(seq, k, dim)
			slots := ml.KmerSlots(seq, k, dim)
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"id":      records[0].ID,
					"k":       k,
					"dim":     dim,
					"nonzero": vec.NonZero(),
					"vector":  vec,
				})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "slot\tkmer\tcount")
			for i, kmer := range slots {
				fmt.Fprintf(tw, "%d\t%s\t%g\n", i, kmer, vec[i])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "k-mer length (config when 0)")
	cmd.Flags().IntVar(&dim, "dim", 0, "vector length (config when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full vector as JSON")
	return cmd
}

func newPredictCmd(opts *options) *cobra.Command {
	var modelPath, labelsPath string
	var threshold float64
	var topK int
	cmd := &cobra.Command{
		Use:   "predict [sequence...]",
		Short: "Rank labels for sequences with a model file",
		Long: `Loads a decision forest (.json) or ONNX (.onnx) model and prints the ranked
labels of every input sequence as one JSON object per line.`,
		Example: "  seqtool predict -m models/forest.json -l models/labels.json MKVLQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelPath == "" {
				return errors.New("--model is required")
			}
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.New("no sequences given")
			}
			if err := nonEmpty(records); err != nil {
				return err
			}

			regOpts := opts.cfg.ML.RegistryOptions()
			regOpts.Dir = filepath.Dir(modelPath)
			regOpts.LabelsPath = labelsPath
			regOpts.CacheSize = 1
			if cmd.Flags().Changed("threshold") {
				regOpts.DecodeOptions.Threshold = threshold
			}
			if topK > 0 {
				regOpts.DecodeOptions.TopK = topK
			}
			registry, err := ml.NewRegistry(regOpts, zap.NewNop())
			if err != nil {
				return err
			}
			defer registry.Close()

			name := strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
			mc, err := registry.Context(name)
			if err != nil {
				return err
			}
			defer mc.Release()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range records {
				res := mc.Predict(cmd.Context(), r.Seq)
				line := map[string]interface{}{
					"id":          r.ID,
					"status":      res.Status,
					"predictions": res.Predictions,
				}
				if res.Err != nil {
					line["error"] = res.Err.Error()
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "model file (.json forest or .onnx)")
	cmd.Flags().StringVarP(&labelsPath, "labels", "l", "", "label set <JSON array>; forests fall back to their own labels")
	cmd.Flags().Float64Var(&threshold, "threshold", ml.DefaultThreshold, "probability above which a label is reported")
	cmd.Flags().IntVar(&topK, "top", 0, "maximum labels per sequence (config when 0)")
	return cmd
}
