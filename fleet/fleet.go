package fleet

import (
	"context"
	"fmt"

	"code.justin.tv/safety/fleetwait/cloud"
	"code.justin.tv/safety/fleetwait/probe"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// Evaluator decides whether every instance of a stack's fleet is reachable
type Evaluator struct {
	resolver    cloud.Resolver
	prober      probe.Prober
	concurrency int
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithConcurrency bounds the number of probes in flight during one poll
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEvaluator(resolver cloud.Resolver, prober probe.Prober, opts ...Option) *Evaluator {
	e := &Evaluator{
		resolver:    resolver,
		prober:      prober,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of probing one address
type Result struct {
	Address string
	Up      bool
	Detail  string
	Err     error
}

// Report is one poll of a fleet
type Report struct {
	Stack   string
	Results []Result
	// Unaddressed lists instances that have no public address and so cannot be probed
	Unaddressed []string
	Ready       bool
}

// Up counts the addresses that answered
func (r *Report) Up() int {
	n := 0
	for _, res := range r.Results {
		if res.Up {
			n++
		}
	}
	return n
}

// Addresses returns every probed address in resolution order
func (r *Report) Addresses() []string {
	addresses := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		addresses = append(addresses, res.Address)
	}
	return addresses
}

// Err explains why the fleet is not ready, or returns nil if it is
func (r *Report) Err() error {
	if r.Ready {
		return nil
	}

	var err error
	if len(r.Results) == 0 && len(r.Unaddressed) == 0 {
		err = multierror.Append(err, errors.Errorf("stack:%s has no instances", r.Stack))
	}
	if len(r.Unaddressed) > 0 {
		err = multierror.Append(err, &cloud.AddressResolutionError{InstanceIDs: r.Unaddressed})
	}
	for _, res := range r.Results {
		if res.Up {
			continue
		}
		if res.Err != nil {
			err = multierror.Append(err, errors.Wrapf(res.Err, "%s: %s", res.Address, res.Detail))
		} else {
			err = multierror.Append(err, errors.Errorf("%s: %s", res.Address, res.Detail))
		}
	}
	return err
}

// Check resolves the current fleet of a stack and probes every address once.
// Resolution errors abort the poll; probe failures only make the fleet not ready.
// An empty fleet is never ready.
func (e *Evaluator) Check(ctx context.Context, stack string) (*Report, error) {
	report := &Report{Stack: stack}

	addresses, err := e.resolver.ResolveInstanceAddresses(ctx, stack)
	if err != nil {
		var addrErr *cloud.AddressResolutionError
		if !errors.As(err, &addrErr) {
			return nil, errors.Wrapf(err, "fleet: stack:%s failed to resolve instances", stack)
		}
		log.Warn().Str("stack", stack).Strs("instances", addrErr.InstanceIDs).Msg("instances without a public address")
		report.Unaddressed = addrErr.InstanceIDs
	}

	report.Results = e.probeAll(ctx, addresses)
	report.Ready = len(report.Results) > 0 && len(report.Unaddressed) == 0 && report.Up() == len(report.Results)
	return report, nil
}

// IsFleetReady performs exactly one poll of a stack's fleet
func (e *Evaluator) IsFleetReady(ctx context.Context, stack string) (bool, error) {
	report, err := e.Check(ctx, stack)
	if err != nil {
		return false, err
	}
	return report.Ready, nil
}

// probeAll probes every address, never abandoning the rest when one is down
func (e *Evaluator) probeAll(ctx context.Context, addresses []string) []Result {
	results := make([]Result, len(addresses))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, address := range addresses {
		i, address := i, address
		g.Go(func() error {
			results[i] = e.probeOne(ctx, address)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Evaluator) probeOne(ctx context.Context, address string) Result {
	if checker, ok := e.prober.(probe.Checker); ok {
		outcome, err := checker.Check(ctx, address)
		return Result{Address: address, Up: outcome.Up(), Detail: outcome.String(), Err: err}
	}

	up := e.prober.Probe(ctx, address)
	return Result{Address: address, Up: up, Detail: upDown(up)}
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

// String summarises the report for logs
func (r *Report) String() string {
	return fmt.Sprintf("stack:%s %d/%d up, %d unaddressed, ready=%t",
		r.Stack, r.Up(), len(r.Results), len(r.Unaddressed), r.Ready)
}
