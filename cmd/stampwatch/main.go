package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudbox/stampwatch"
	"github.com/cloudbox/stampwatch/history"
	"github.com/cloudbox/stampwatch/internal/sqlite"
	"github.com/cloudbox/stampwatch/notify"
	"github.com/cloudbox/stampwatch/ping"
	"github.com/cloudbox/stampwatch/poller"
	"github.com/cloudbox/stampwatch/snapshot"
	"github.com/cloudbox/stampwatch/stats"
	"github.com/cloudbox/stampwatch/traq"
	"github.com/cloudbox/stampwatch/traqing"
)

const (
	logMaxSizeMB  = 5
	logMaxAgeDays = 14
	logMaxBackups = 5

	defaultPort = 3030

	serverTimeout = 30 * time.Second
)

// ready is set to true after the baseline has been established, and is used
// by the health endpoint to distinguish "starting up" from "running".
var ready atomic.Bool

var (
	// release variables
	Version   string
	Timestamp string
	GitCommit string

	// CLI
	cli struct {
		globals

		// flags
		Config    string `type:"path" default:"${config_file}" env:"STAMPWATCH_CONFIG" help:"Config file path"`
		Database  string `type:"path" default:"${database_file}" env:"STAMPWATCH_DATABASE" help:"Database file path"`
		Log       string `type:"path" default:"${log_file}" env:"STAMPWATCH_LOG" help:"Log file path"`
		Verbosity int    `type:"counter" default:"0" short:"v" env:"STAMPWATCH_VERBOSITY" help:"Log level verbosity"`
		LogLevel  string `default:"" env:"STAMPWATCH_LOG_LEVEL" help:"Log level (trace,debug,info,warn,error,fatal)"`

		// credentials
		Token        string `env:"TOKEN" help:"traQ bot access token"`
		TraqingToken string `env:"TRAQ_AUTH_TOKEN" help:"traQing session cookie"`
	}
)

type globals struct {
	Version versionFlag `name:"version" help:"Print version information and quit"`
}

type versionFlag string

func (versionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (versionFlag) IsBool() bool                       { return true }
func (versionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error { //nolint:unparam // satisfies kong.Hook interface
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

func main() {
	// parse cli
	ctx := kong.Parse(&cli,
		kong.Name("stampwatch"),
		kong.Description("Notify when tracked stamps are used on traQ"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Summary: true,
			Compact: true,
		}),
		kong.Vars{
			"version":       fmt.Sprintf("%s (%s@%s)", Version, GitCommit, Timestamp),
			"config_file":   filepath.Join(defaultConfigDirectory("stampwatch", "config.yml"), "config.yml"),
			"log_file":      filepath.Join(defaultConfigDirectory("stampwatch", "config.yml"), "activity.log"),
			"database_file": filepath.Join(defaultConfigDirectory("stampwatch", "config.yml"), "stampwatch.db"),
		},
	)

	if err := ctx.Validate(); err != nil {
		fmt.Println("Failed parsing cli:", err)
		os.Exit(1)
	}

	// logger
	setupLogger()

	// config
	cfg := loadConfig()

	// cancelled on shutdown; stops the event stream and in-flight requests
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// datastore
	db, err := sqlite.NewDB(appCtx, cli.Database)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Datastore Init Failed")
	}

	store, err := history.New(appCtx, db)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("History Init Failed")
	}

	// clients
	traqClient, traqingClient := initClients(cfg)

	// notifier + poller
	pollStats := stats.New()
	n := initNotifier(appCtx, cfg, traqClient, store, pollStats)
	p := initPoller(cfg, traqClient, traqingClient, n, pollStats)

	// status server
	router := getRouter(cfg, pollStats, p, store, func() error {
		return p.Cycle(appCtx)
	})
	startHTTPServers(cfg, router)

	// baseline
	if err := p.Init(appCtx); err != nil {
		log.Fatal().
			Err(err).
			Msg("Baseline Failed")
	}

	// ping responder
	if cfg.Ping.Enabled {
		go listen(appCtx, traqClient, ping.New(cfg.Ping, traqClient))
	}

	// poll stats
	if cfg.Stats.Seconds() > 0 {
		go logStats(appCtx, pollStats, store, cfg.Stats)
	}

	if err := p.Start(appCtx); err != nil {
		log.Fatal().
			Err(err).
			Msg("Poller Start Failed")
	}

	// display initialised banner
	log.Info().
		Str("version", fmt.Sprintf("%s (%s@%s)", Version, GitCommit, Timestamp)).
		Int("stamps", len(cfg.Stamps)).
		Dur("interval", cfg.Interval).
		Msg("Stampwatch Initialised")

	sig := notifyReady()
	log.Info().Str("signal", sig.String()).Msg("Shutdown Signal")

	// cron first so no new branches start, then abort in-flight requests
	p.Stop()
	cancel()
	p.Wait()

	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Datastore Close Failed")
	}
}

// initClients creates the traQ and traQing clients. CLI credentials take
// precedence over the config file. Calls log.Fatal on initialisation error.
func initClients(cfg config) (*traq.Client, *traqing.Client) {
	traqClient, err := traq.New(cfg.Traq)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("url", cfg.Traq.URL).
			Msg("traQ Client Init Failed")
	}

	traqingClient, err := traqing.New(cfg.Traqing)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("url", cfg.Traqing.URL).
			Msg("traQing Client Init Failed")
	}

	return traqClient, traqingClient
}

// initNotifier resolves the notification destination and creates the
// notifier. Calls log.Fatal on initialisation error.
func initNotifier(ctx context.Context, cfg config, platform *traq.Client, store *history.Store, st *stats.Stats) *notify.Notifier {
	dm, err := platform.DMChannel(ctx, cfg.TargetUser)
	if err != nil {
		log.Fatal().
			Err(err).
			Str("user_id", cfg.TargetUser).
			Msg("DM Channel Lookup Failed")
	}

	nc := cfg.Notify
	nc.Platform = platform
	nc.Destination = dm
	nc.BatchSize = cfg.BatchSize
	nc.History = store
	nc.Stats = st

	n, err := notify.New(nc)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Notifier Init Failed")
	}

	log.Info().
		Str("channel_id", string(dm)).
		Strs("include", cfg.Notify.Include).
		Strs("exclude", cfg.Notify.Exclude).
		Msg("Notifier Initialised")

	return n
}

// initPoller creates the poller. Calls log.Fatal on initialisation error.
func initPoller(cfg config, lister poller.ChannelLister, counter stampwatch.Counter,
	n stampwatch.Notifier, st *stats.Stats,
) *poller.Poller {
	p, err := poller.New(poller.Config{
		Builder: snapshot.New(snapshot.Config{
			Counter:   counter,
			Stamps:    cfg.Stamps,
			BatchSize: cfg.BatchSize,
		}),
		Channels:  lister,
		Notifier:  n,
		Interval:  cfg.Interval,
		Stats:     st,
		Verbosity: cfg.Verbosity,
	})
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Poller Init Failed")
	}

	return p
}

// listen runs the ping responder on the event stream until ctx is done or
// the stream fails permanently.
func listen(ctx context.Context, c *traq.Client, r *ping.Responder) {
	err := c.Listen(ctx, r.Handle)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, stampwatch.ErrFatal):
		log.Error().
			Err(err).
			Msg("Event Stream Stopped")
	default:
		log.Warn().
			Err(err).
			Msg("Event Stream Stopped")
	}
}

// startHTTPServers starts one goroutine per host address that serves the router.
// Calls log.Fatal if any server fails to start.
func startHTTPServers(cfg config, router http.Handler) {
	for _, hostAddr := range cfg.Host {
		go func(host string) {
			addr := host
			if !strings.Contains(addr, ":") {
				addr = fmt.Sprintf("%s:%d", host, cfg.Port)
			}

			log.Info().Str("addr", addr).Msg("Server Starting")
			server := &http.Server{
				Addr:         addr,
				Handler:      router,
				ReadTimeout:  serverTimeout,
				WriteTimeout: serverTimeout,
			}
			if listenErr := server.ListenAndServe(); listenErr != nil {
				log.Fatal().
					Str("addr", addr).
					Err(listenErr).
					Msg("Server Start Failed")
			}
		}(hostAddr)
	}
}

// notifyReady marks the process as ready (sd_notify + ready flag) and blocks
// until SIGINT or SIGTERM is received.
func notifyReady() os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ready.Store(true)

	sdOK, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn().Err(err).Msg("sd_notify Failed")
	} else if sdOK {
		log.Info().Msg("sd_notify Ready Sent")
	}

	sig := <-sigCh
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return sig
}

// loadConfig reads the YAML config file, applies CLI credentials and
// validates the result. Calls log.Fatal on any error.
func loadConfig() config {
	file, err := os.Open(cli.Config)
	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Config Open Failed")
	}

	cfg, err := decodeConfig(file)
	_ = file.Close()

	if err != nil {
		log.Fatal().
			Err(err).
			Msg("Config Decode Failed")
	}

	if cli.Token != "" {
		cfg.Traq.Token = cli.Token
	}

	if cli.TraqingToken != "" {
		cfg.Traqing.Token = cli.TraqingToken
	}

	if err := cfg.validate(); err != nil {
		log.Fatal().
			Err(err).
			Msg("Config Invalid")
	}

	return cfg
}

// setupLogger configures the global zerolog logger using the CLI flags.
// Log level is set from --log-level if provided, otherwise from verbosity count.
func setupLogger() {
	logger := log.Output(io.MultiWriter(zerolog.ConsoleWriter{
		TimeFormat: time.Stamp,
		Out:        os.Stderr,
	}, &lumberjack.Logger{
		Filename:   cli.Log,
		MaxSize:    logMaxSizeMB,
		MaxAge:     logMaxAgeDays,
		MaxBackups: logMaxBackups,
	}))

	if cli.LogLevel != "" {
		level, err := zerolog.ParseLevel(cli.LogLevel)
		if err != nil {
			log.Logger = logger.Level(zerolog.InfoLevel)
			log.Fatal().Str("level", cli.LogLevel).Msg("Invalid Log Level")
		}

		log.Logger = logger.Level(level)

		return
	}

	switch {
	case cli.Verbosity == 1:
		log.Logger = logger.Level(zerolog.DebugLevel)
	case cli.Verbosity > 1:
		log.Logger = logger.Level(zerolog.TraceLevel)
	default:
		log.Logger = logger.Level(zerolog.InfoLevel)
	}
}
