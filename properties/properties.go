// Package properties obtains physicochemical properties of a sequence from an
// external calculator. Nothing here computes them.
package properties

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

var (
	// ErrUnavailable means the calculator cannot be run at all.
	ErrUnavailable = errors.New("property calculator unavailable")
	// ErrInvalidSequence means the calculator rejected the residues it was
	// given.
	ErrInvalidSequence = errors.New("invalid protein sequence")
)

// ExitInvalidSequence is the exit status a calculator uses to reject its
// input. Runs ending with it are not retried.
const ExitInvalidSequence = 65

type Properties struct {
	Length                     int                `json:"length"`
	MolecularWeight            float64            `json:"molecular_weight"`
	Aromaticity                float64            `json:"aromaticity"`
	InstabilityIndex           float64            `json:"instability_index"`
	IsoelectricPoint           float64            `json:"isoelectric_point"`
	Gravy                      float64            `json:"gravy"`
	SecondaryStructureFraction [3]float64         `json:"secondary_structure_fraction"`
	AminoAcidPercent           map[string]float64 `json:"amino_acid_percent"`
}

type Calculator interface {
	Calculate(ctx context.Context, seq string) (*Properties, error)
}

// CommandCalculator runs Command with Args followed by the sequence and
// decodes the JSON object it prints. Failed runs are retried with Fibonacci
// backoff; rejected input and output that is not valid JSON are not.
type CommandCalculator struct {
	Command string
	Args    []string
	Timeout time.Duration
	Retries uint64
	Backoff time.Duration
	Logger  *zap.Logger
}

func (c *CommandCalculator) Calculate(ctx context.Context, seq string) (*Properties, error) {
	if c.Command == "" {
		return nil, fmt.Errorf("%w: no command configured", ErrUnavailable)
	}
	path, err := exec.LookPath(c.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := c.Backoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	var props *Properties
	b := retry.NewFibonacci(base)
	err = retry.Do(ctx, retry.WithMaxRetries(c.Retries, b), func(ctx context.Context) error {
		out, err := c.run(ctx, path, seq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrInvalidSequence) {
				return err
			}
			logger.Warn("property calculator failed, will retry", zap.Error(err))
			return retry.RetryableError(err)
		}
		var p Properties
		if err := json.Unmarshal(out, &p); err != nil {
			return fmt.Errorf("decode calculator output: %w", err)
		}
		props = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return props, nil
}

func (c *CommandCalculator) run(ctx context.Context, path, seq string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	args := append(append([]string(nil), c.Args...), seq)
	cmd := exec.CommandContext(ctx, path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitInvalidSequence {
			if msg == "" {
				return nil, ErrInvalidSequence
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidSequence, msg)
		}
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.Command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.Command, err)
	}
	return stdout.Bytes(), nil
}
