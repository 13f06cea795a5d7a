package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bluetuith-org/handsfree/api/eventbus"
	"github.com/bluetuith-org/handsfree/handsfree"
	"github.com/bluetuith-org/handsfree/internal/logging"
	"github.com/bluetuith-org/handsfree/platform"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// These values are set at compile-time.
var (
	Version  = ""
	Revision = ""
)

// Run runs the commandline application.
func Run() error {
	return newApp().Run(os.Args)
}

// newApp returns a new commandline application.
func newApp() *cli.App {
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintf(cCtx.App.Writer, "%s (%s)\n", Version, Revision)
	}

	return &cli.App{
		Name:                   "handsfree",
		Usage:                  "Hands-free profile daemon.",
		Version:                Version + " (" + Revision + ")",
		Description:            "Runs the hands-free unit role of a radio stack: answers calls, routes audio and hangs up.",
		Copyright:              "(c) bluetuith-org.",
		Compiled:               time.Now(),
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags:                  flags(),
		Action: func(cliCtx *cli.Context) error {
			// required for koanf to merge all global flags under the root namespace.
			cliCtx.Command.Name = "global"

			k, values := koanf.New("."), NewValues()
			if err := values.Load(k, cliCtx); err != nil {
				return err
			}

			return run(cliCtx.Context, values)
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}

			printError(err)
		},
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"HANDSFREE_CONFIG"},
			Usage:   "Load the configuration from this file.",
		},
		&cli.StringFlag{
			Name:    "local-name",
			Aliases: []string{"n"},
			EnvVars: []string{"HANDSFREE_LOCAL_NAME"},
			Usage:   "Specify the name the device advertises.",
		},
		&cli.StringFlag{
			Name:    "name-encoding",
			EnvVars: []string{"HANDSFREE_NAME_ENCODING"},
			Usage:   "Specify the encoding of the local name. ('utf8' or 'gbk')",
		},
		&cli.StringFlag{
			Name:    "visible-mode",
			EnvVars: []string{"HANDSFREE_VISIBLE_MODE"},
			Usage:   "Specify the visibility mode. ('hidden', 'discoverable', 'connectable' or 'discoverable-connectable')",
		},
		&cli.IntFlag{
			Name:    "audio-channel",
			EnvVars: []string{"HANDSFREE_AUDIO_CHANNEL"},
			Usage:   "Specify the output channel that call audio is routed to.",
		},
		&cli.IntFlag{
			Name:    "call-volume",
			Aliases: []string{"v"},
			EnvVars: []string{"HANDSFREE_CALL_VOLUME"},
			Usage:   "Specify the call volume set when a call begins. (0-11)",
		},
		&cli.IntFlag{
			Name:    "queue-capacity",
			EnvVars: []string{"HANDSFREE_QUEUE_CAPACITY"},
			Usage:   "Specify how many indications may be queued.",
		},
		&cli.DurationFlag{
			Name:    "auth-timeout",
			EnvVars: []string{"HANDSFREE_AUTH_TIMEOUT"},
			Usage:   "Specify the timeout for authorizing a new connection.",
		},
		&cli.DurationFlag{
			Name:    "stop-timeout",
			EnvVars: []string{"HANDSFREE_STOP_TIMEOUT"},
			Usage:   "Specify how long to wait for the stack to stop on exit.",
		},
		&cli.StringFlag{
			Name:    "relay-reply",
			EnvVars: []string{"HANDSFREE_RELAY_REPLY"},
			Usage:   "Send this reply whenever serial data is received.",
		},
		&cli.StringSliceFlag{
			Name:    "allow",
			EnvVars: []string{"HANDSFREE_ALLOW"},
			Usage:   "Only accept connections from these peers. (For example, 'AA:BB:CC:DD:EE:FF')",
		},
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			EnvVars: []string{"HANDSFREE_ADAPTER"},
			Usage:   "Specify the radio stack adapter. ('auto', 'dbus' or 'shim')",
		},
		&cli.StringFlag{
			Name:    "socket-path",
			Aliases: []string{"s"},
			EnvVars: []string{"HANDSFREE_SOCKET_PATH"},
			Usage:   "Specify the socket of the shim server.",
		},
		&cli.StringFlag{
			Name:    "shim-path",
			EnvVars: []string{"HANDSFREE_SHIM_PATH"},
			Usage:   "Launch the shim server from this path.",
		},
		&cli.DurationFlag{
			Name:    "reply-timeout",
			EnvVars: []string{"HANDSFREE_REPLY_TIMEOUT"},
			Usage:   "Specify the timeout for shim command replies.",
		},
		&cli.BoolFlag{
			Name:    "session-bus",
			EnvVars: []string{"HANDSFREE_SESSION_BUS"},
			Usage:   "Use the DBus session bus instead of the system bus.",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			EnvVars: []string{"HANDSFREE_LOG_LEVEL"},
			Usage:   "Specify the console log level.",
		},
		&cli.StringFlag{
			Name:    "log-file",
			EnvVars: []string{"HANDSFREE_LOG_FILE"},
			Usage:   "Also write logs to this file.",
		},
		&cli.StringFlag{
			Name:    "log-file-level",
			EnvVars: []string{"HANDSFREE_LOG_FILE_LEVEL"},
			Usage:   "Specify the log file level.",
		},
	}
}

// run runs one controller lifetime until the stack stops or the
// process is interrupted.
func run(ctx context.Context, values *Values) error {
	logOpts, err := values.LoggingOptions()
	if err != nil {
		return err
	}

	cfg, err := values.Configuration()
	if err != nil {
		return err
	}

	authorizer, err := values.Authorizer()
	if err != nil {
		return err
	}

	logs := logging.New(logOpts)
	defer logs.Close()

	log := logs.Component("daemon")

	stack, info, err := platform.Stack(values.PlatformOptions(), logs.Component("stack"))
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"os": info.OS, "stack": info.Stack}).Info("selected radio stack")

	bus := eventbus.New()
	controller, err := handsfree.NewController(stack, cfg,
		handsfree.WithLogger(logs.Component("controller")),
		handsfree.WithEventBus(bus),
		handsfree.WithAuthorizer(authorizer),
	)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchCtx, stopWatching := context.WithCancel(context.Background())
	watcher := newWatcher(bus, controller.Store(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopWatching()
		return controller.Run(gctx)
	})
	g.Go(func() error {
		watcher.watch(watchCtx)
		return nil
	})

	return g.Wait()
}
