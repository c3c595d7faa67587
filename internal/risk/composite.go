package risk

import (
	"context"
	"sync"
	"time"

	"github.com/you/accountportal/domain"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Composite runs several evaluators concurrently and keeps the highest-scoring verdict.
// It fails only when every evaluator fails.
type Composite struct {
	evaluators []domain.RiskEvaluator
}

// NewComposite combines evaluators; nil entries are skipped
func NewComposite(evaluators ...domain.RiskEvaluator) *Composite {
	c := &Composite{}
	for _, e := range evaluators {
		if e != nil {
			c.evaluators = append(c.evaluators, e)
		}
	}
	return c
}

// Len reports how many evaluators are combined
func (c *Composite) Len() int { return len(c.evaluators) }

// Assess implements domain.RiskEvaluator
func (c *Composite) Assess(ctx context.Context, identifier string, at time.Time) (domain.RiskAssessment, error) {
	if len(c.evaluators) == 0 {
		return domain.RiskAssessment{}, domain.ErrEvaluatorUnavailable
	}

	var (
		mu       sync.Mutex
		best     domain.RiskAssessment
		found    bool
		combined error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.evaluators {
		e := e
		g.Go(func() error {
			a, err := e.Assess(gctx, identifier, at)
			if err == nil {
				err = a.Validate()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				combined = multierr.Append(combined, err)
				return nil
			}
			if !found || better(a, best) {
				best, found = a, true
			}
			return nil
		})
	}
	g.Wait()

	if !found {
		return domain.RiskAssessment{}, combined
	}
	return best, nil
}

func better(a, b domain.RiskAssessment) bool {
	if a.Suspicious != b.Suspicious {
		return a.Suspicious
	}
	return a.Score > b.Score
}
