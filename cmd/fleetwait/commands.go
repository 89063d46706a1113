package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"code.justin.tv/safety/fleetwait/cloud"
	"code.justin.tv/safety/fleetwait/fleet"
	"code.justin.tv/safety/fleetwait/remote"
)

type readyCommand struct{}

func (c *readyCommand) Execute(_ []string) error {
	t, err := newTarget()
	if err != nil {
		return err
	}
	e, err := t.evaluator()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, err := e.Check(ctx, t.stack)
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)

	if !report.Ready {
		log.Warn().Err(report.Err()).Str("stack", t.stack).Msg("fleet not ready")
		return errNotReady
	}
	return nil
}

type waitCommand struct {
	Timeout   time.Duration `short:"t" long:"timeout" description:"how long to wait for ssh on the fleet (default from config, 10m)"`
	Interval  time.Duration `short:"i" long:"interval" description:"how long to sleep between polls (default from config, 20s)"`
	Bootstrap bool          `short:"b" long:"bootstrap" description:"after ssh is up, wait for the bootstrap marker on every host"`
	Marker    string        `short:"m" long:"marker" description:"bootstrap marker file (default from config, /tmp/bootstrap_done)"`
}

func (c *waitCommand) Execute(_ []string) error {
	t, err := newTarget()
	if err != nil {
		return err
	}
	c.applyDefaults(t)

	e, err := t.evaluator()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Info().Str("stack", t.stack).Dur("timeout", c.Timeout).Dur("interval", c.Interval).Msg("waiting for ssh")
	waitCtx, waitCancel := context.WithTimeout(ctx, c.Timeout)
	defer waitCancel()

	report, err := fleet.WaitUntilReady(waitCtx, e, t.stack, c.Interval)
	if err != nil {
		if report != nil {
			printReport(os.Stdout, report)
		}
		return err
	}

	if !c.Bootstrap {
		return nil
	}
	return c.waitForBootstrap(ctx, t, report.Addresses())
}

func (c *waitCommand) applyDefaults(t *target) {
	if c.Timeout == 0 {
		c.Timeout = t.env.Wait.Timeout
	}
	if c.Interval == 0 {
		c.Interval = t.env.Wait.Interval
	}
	if c.Marker == "" {
		c.Marker = t.env.Wait.BootstrapMarker
	}
}

func (c *waitCommand) waitForBootstrap(ctx context.Context, t *target, hosts []string) error {
	key, err := t.env.ReadPrivateKey()
	if err != nil {
		return err
	}
	if len(key) == 0 {
		return errors.New("an ssh private key is required to check the bootstrap marker")
	}
	knownHosts, err := t.env.KnownHostsPath()
	if err != nil {
		return err
	}

	client, err := remote.NewClient(remote.Config{
		User:           t.env.SSH.User,
		Port:           t.env.SSH.Port,
		PrivateKey:     key,
		KnownHostsFile: knownHosts,
		DialTimeout:    t.env.SSH.Timeout,
	})
	if err != nil {
		return err
	}

	bootstrapCtx, cancel := context.WithTimeout(ctx, t.env.Wait.BootstrapTimeout)
	defer cancel()
	return fleet.WaitForBootstrap(bootstrapCtx, client, hosts, c.Marker, c.Interval)
}

type ipsCommand struct {
	Fraction float64 `short:"f" long:"fraction" default:"0" description:"print the addresses in batches of this fraction of the fleet, one batch per line"`
}

func (c *ipsCommand) Execute(_ []string) error {
	t, err := newTarget()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	addresses, err := t.resolver.ResolveInstanceAddresses(ctx, t.stack)
	if err != nil {
		var addrErr *cloud.AddressResolutionError
		if !errors.As(err, &addrErr) {
			return err
		}
		log.Warn().Strs("instances", addrErr.InstanceIDs).Msg("skipping instances without a public address")
	}

	batches, err := fleet.Batch(addresses, c.Fraction)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		fmt.Println(strings.Join(batch, " "))
	}
	return nil
}

func printReport(w io.Writer, report *fleet.Report) {
	for _, res := range report.Results {
		fmt.Fprintf(w, "%s\t%s\n", res.Address, res.Detail)
	}
	for _, id := range report.Unaddressed {
		fmt.Fprintf(w, "%s\tno public address\n", id)
	}
	fmt.Fprintln(w, report.String())
}
