package sim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// Replica is one independent realisation of a run.
type Replica struct {
	Simulator *Simulator
	System    *body.System
	Clock     *dynamo.Clock
	Config    Config
	// Done is called with the outcome of the replica, if set.
	Done func(*Result, error) error
}

// Ensemble runs independent replicas of a stochastic run concurrently. Each
// replica owns its system, clock and random stream.
type Ensemble struct {
	factory  func(i int) (*Replica, error)
	replicas int
	limit    int
}

func NewEnsemble(replicas, limit int, factory func(i int) (*Replica, error)) *Ensemble {
	return &Ensemble{factory: factory, replicas: replicas, limit: limit}
}

// Run stops every replica on the first failure and returns that error.
func (e *Ensemble) Run(ctx context.Context) ([]*Result, error) {
	results := make([]*Result, e.replicas)

	g, ctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i := 0; i < e.replicas; i++ {
		i := i
		g.Go(func() error {
			r, err := e.factory(i)
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			res, err := r.Simulator.Run(ctx, r.System, r.Clock, r.Config)
			results[i] = res
			if r.Done != nil {
				if derr := r.Done(res, err); derr != nil && err == nil {
					err = derr
				}
			}
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
