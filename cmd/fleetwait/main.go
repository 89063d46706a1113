package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	awsFuncs "code.justin.tv/safety/fleetwait/cloud/aws"

	"code.justin.tv/safety/fleetwait/cloud"
	"code.justin.tv/safety/fleetwait/config"
	"code.justin.tv/safety/fleetwait/fleet"
	"code.justin.tv/safety/fleetwait/probe"
)

var opts struct {
	Profile     string `short:"p" long:"profile" env:"AWS_PROFILE" description:"aws shared config profile"`
	Region      string `short:"r" long:"region" env:"AWS_REGION" description:"aws region of the stack"`
	Config      string `short:"c" long:"config" description:"yaml project file with one section per environment"`
	Environment string `short:"e" long:"environment" description:"environment section of the project file"`
	Stack       string `short:"s" long:"stack" description:"stack name, overriding <application>-<environment>"`
	Strict      bool   `long:"strict" description:"fail when a stack has more than one autoscaling group"`
	Verbose     bool   `short:"v" long:"verbose" description:"log every probe"`
}

// errNotReady makes the process exit non-zero without logging an error twice
var errNotReady = errors.New("fleet not ready")

func main() {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		setupLogging(opts.Verbose)
		if command == nil {
			return nil
		}
		return command.Execute(args)
	}

	mustAddCommand(parser, "ready", "Check the fleet once",
		"Resolve the instances of the stack and probe ssh on each of them once. Exits 1 if any is down.",
		&readyCommand{})
	mustAddCommand(parser, "wait", "Wait until ssh is up on the whole fleet",
		"Poll the fleet until every instance answers ssh, then optionally wait for the bootstrap marker.",
		&waitCommand{})
	mustAddCommand(parser, "ips", "Print the public addresses of the fleet",
		"Print the public addresses of the fleet, split into batches when --fraction is given.",
		&ipsCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		switch {
		case errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp:
			_, _ = os.Stdout.WriteString(flagsErr.Message + "\n")
			return
		case errors.As(err, &flagsErr):
			log.Fatal().Msgf("Error parsing commandline arguments: %s", flagsErr.Message)
		case errors.Is(err, errNotReady):
			os.Exit(1)
		default:
			log.Fatal().Err(err).Msg("command failed")
		}
	}
}

func mustAddCommand(parser *flags.Parser, name, short, long string, data interface{}) {
	if _, err := parser.AddCommand(name, short, long, data); err != nil {
		log.Fatal().Err(err).Str("command", name).Msg("failed to register command")
	}
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// signalContext is cancelled on the first interrupt or terminate signal
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadEnvironment reads the project file and lays the global flags over it
func loadEnvironment() (*config.Environment, error) {
	env, err := config.Load(opts.Config, opts.Environment)
	if err != nil {
		return nil, err
	}
	if opts.Profile != "" {
		env.Profile = opts.Profile
	}
	if opts.Region != "" {
		env.Region = opts.Region
	}
	if opts.Stack != "" {
		env.Stack = opts.Stack
	}
	if opts.Strict {
		env.StrictScalingGroup = true
	}
	return env, nil
}

// target bundles what every command needs to look at one fleet
type target struct {
	env      *config.Environment
	stack    string
	resolver *awsFuncs.Clients
}

func newTarget() (*target, error) {
	env, err := loadEnvironment()
	if err != nil {
		return nil, err
	}
	stack, err := env.StackName()
	if err != nil {
		return nil, err
	}

	policy := cloud.PolicyLowest
	if env.StrictScalingGroup {
		policy = cloud.PolicyStrict
	}
	resolver, err := awsFuncs.NewSessions(env.Profile, env.Region).Clients(env.Region, awsFuncs.WithSelectionPolicy(policy))
	if err != nil {
		return nil, err
	}

	log.Debug().Str("stack", stack).Str("profile", env.Profile).Str("region", env.Region).Msg("resolved target")
	return &target{env: env, stack: stack, resolver: resolver}, nil
}

func (t *target) evaluator() (*fleet.Evaluator, error) {
	key, err := t.env.ReadPrivateKey()
	if err != nil {
		return nil, err
	}
	knownHosts, err := t.env.KnownHostsPath()
	if err != nil {
		return nil, err
	}

	prober, err := probe.NewSSHProber(probe.Config{
		User:           t.env.SSH.User,
		Port:           t.env.SSH.Port,
		PrivateKey:     key,
		KnownHostsFile: knownHosts,
		Timeout:        t.env.SSH.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return fleet.NewEvaluator(t.resolver, prober, fleet.WithConcurrency(t.env.Wait.Concurrency)), nil
}
