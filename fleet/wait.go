package fleet

import (
	"context"
	"math"
	"time"

	"code.justin.tv/safety/fleetwait/cloud"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// WaitUntilReady polls the fleet of a stack until it is ready or the context finishes.
// A stack that cannot be resolved to a scaling group stops the wait at once; any other
// error is logged and the next poll goes ahead. It returns the last report.
func WaitUntilReady(ctx context.Context, e *Evaluator, stack string, interval time.Duration) (*Report, error) {
	var last *Report
	for poll := 1; ; poll++ {
		report, err := e.Check(ctx, stack)
		switch {
		case err != nil && cloud.IsResolutionError(err):
			return last, err
		case err != nil:
			log.Warn().Err(err).Str("stack", stack).Int("poll", poll).Msg("poll failed")
		default:
			last = report
			if report.Ready {
				log.Info().Str("stack", stack).Int("poll", poll).Int("instances", len(report.Results)).
					Msg("ssh is up on all instances")
				return report, nil
			}
			log.Info().Str("stack", stack).Int("poll", poll).
				Int("up", report.Up()).Int("instances", len(report.Results)).
				Int("unaddressed", len(report.Unaddressed)).
				Msg("waiting for ssh on all instances")
		}

		select {
		case <-ctx.Done():
			if last != nil {
				log.Warn().Err(last.Err()).Str("stack", stack).Msg("fleet not ready")
			}
			return last, errors.Wrapf(ctx.Err(), "fleet: stack:%s not ready before context finished", stack)
		case <-time.After(interval):
		}
	}
}

// MarkerChecker reports whether a file exists on a host
type MarkerChecker interface {
	FileExists(ctx context.Context, host, path string) (bool, error)
}

// WaitForBootstrap polls every host until the bootstrap marker file exists on all of them
func WaitForBootstrap(ctx context.Context, checker MarkerChecker, hosts []string, marker string, interval time.Duration) error {
	if len(hosts) == 0 {
		return errors.New("fleet: no hosts to wait for")
	}

	for {
		done := 0
		for _, host := range hosts {
			exists, err := checker.FileExists(ctx, host, marker)
			if err != nil {
				log.Warn().Err(err).Str("host", host).Msg("failed to check bootstrap marker")
				continue
			}
			if exists {
				done++
			}
		}
		if done == len(hosts) {
			log.Info().Int("hosts", len(hosts)).Str("marker", marker).Msg("bootstrap finished on all hosts")
			return nil
		}
		log.Info().Int("done", done).Int("hosts", len(hosts)).Msg("waiting for bootstrap to finish")

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "fleet: bootstrap not finished on %d/%d hosts", len(hosts)-done, len(hosts))
		case <-time.After(interval):
		}
	}
}

// Batch splits addresses into batches each holding ceil(len*fraction) addresses.
// A zero fraction yields a single batch.
func Batch(addresses []string, fraction float64) ([][]string, error) {
	if fraction < 0 || fraction > 1 {
		return nil, errors.Errorf("fleet: batch fraction %v must be between 0 and 1", fraction)
	}
	if len(addresses) == 0 {
		return nil, nil
	}
	if fraction == 0 {
		return [][]string{addresses}, nil
	}

	size := int(math.Ceil(float64(len(addresses)) * fraction))
	var batches [][]string
	for i := 0; i < len(addresses); i += size {
		end := i + size
		if end > len(addresses) {
			end = len(addresses)
		}
		batches = append(batches, addresses[i:end])
	}
	return batches, nil
}
