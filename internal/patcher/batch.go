package patcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ralt/opatch/internal/models"
	"github.com/ralt/opatch/internal/utils"
)

// PatchFunc patches a single input
type PatchFunc func(ctx context.Context, input string) (*Result, error)

// Batch runs a PatchFunc over many inputs with bounded parallelism.
type Batch struct {
	Jobs   int
	Policy models.BatchPolicy
	RunID  string
}

// NewBatch returns a batch with a fresh run id
func NewBatch(jobs int, policy models.BatchPolicy) *Batch {
	if jobs < 1 {
		jobs = 1
	}
	if policy == "" {
		policy = models.PolicyAbort
	}
	return &Batch{Jobs: jobs, Policy: policy, RunID: uuid.NewString()}
}

// Run patches every input. With PolicyAbort the first failure cancels the
// pipelines that have not finished and is returned alone. With
// PolicyContinue every input is attempted and all failures are joined.
// Results are indexed like inputs; failed inputs leave a nil slot.
func (b *Batch) Run(ctx context.Context, inputs []string, patch PatchFunc) ([]*Result, error) {
	log := logrus.WithFields(logrus.Fields{"run": b.RunID})
	log.Infof("Patching %d packages with %d jobs (on error: %s)", len(inputs), b.Jobs, b.Policy)

	results := make([]*Result, len(inputs))
	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	if b.Policy == models.PolicyContinue {
		g = &errgroup.Group{}
		gctx = ctx
	}
	g.SetLimit(b.Jobs)

	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := patch(gctx, input)
			if err == nil {
				results[i] = res
				return nil
			}
			if b.Policy == models.PolicyAbort {
				return err
			}
			log.WithField("package", input).Errorf("Failed: %v", err)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := errors.Join(errs...); err != nil {
		return results, err
	}
	log.Infof("Patched %d packages", len(inputs))
	return results, nil
}

// PatchAll runs p over inputs under b, tagging every pipeline's log lines
// with the batch run id. Inputs that would write the same output file are
// rejected before any pipeline starts, whether or not force is set.
func (b *Batch) PatchAll(ctx context.Context, p *Patcher, inputs []string) ([]*Result, error) {
	if err := checkOutputs(p.opts.OutputDir, inputs); err != nil {
		return nil, err
	}
	tagged := p.WithLogger(logrus.WithFields(logrus.Fields{"run": b.RunID}))
	return b.Run(ctx, inputs, tagged.Patch)
}

func checkOutputs(outputDir string, inputs []string) error {
	claimed := make(map[string]string, len(inputs))
	for _, input := range inputs {
		out, err := utils.OutputPath(outputDir, input, models.BuilderVersion)
		if err != nil {
			return &models.PatchError{Type: models.ErrInput, Package: input, Err: err}
		}
		if first, ok := claimed[out]; ok {
			return &models.PatchError{
				Type:    models.ErrOutputExists,
				Package: input,
				Err:     fmt.Errorf("%w: %s and %s both write %s", ErrOutputExists, first, input, out),
			}
		}
		claimed[out] = input
	}
	return nil
}
