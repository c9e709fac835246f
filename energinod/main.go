package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/api"
	"github.com/rriggio/energino/pkg/config"
	"github.com/rriggio/energino/pkg/console"
	"github.com/rriggio/energino/pkg/feeds"
	"github.com/rriggio/energino/pkg/hw"
	"github.com/rriggio/energino/pkg/meter"
	"github.com/rriggio/energino/pkg/settings"
	"github.com/rriggio/energino/pkg/telemetry"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		simFlag    = flag.Bool("sim", false, "Run self-contained on the simulated board (stdio console)")
		listenFlag = flag.String("listen", "", "REST listen address override (e.g., :8080)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Command line overrides
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *simFlag {
		cfg.Sim.Enabled = true
	}
	if *listenFlag != "" {
		cfg.API.Listen = *listenFlag
	}

	log := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("agent failed")
	}
	log.Info().Msg("agent stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := settings.OpenBolt(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer store.Close()

	rec, err := settings.LoadOrProvision(store)
	if err != nil {
		return fmt.Errorf("failed to load settings record: %w", err)
	}

	con := openConsole(cfg, log)
	defer con.Close()

	// The simulated board is the only driver bundled; a hardware
	// hal.Driver drops in here.
	simCfg := hw.ConfigFromSettings(rec)
	simCfg.SupplyVoltage = cfg.Sim.SupplyVoltage
	simCfg.LoadCurrent = cfg.Sim.LoadCurrent
	simCfg.Noise = cfg.Sim.Noise
	if cfg.Meter.ARef > 0 {
		simCfg.ARef = cfg.Meter.ARef
	}
	sim := hw.NewSim(simCfg, log)
	defer sim.Close()

	reg := prometheus.NewRegistry()
	mx := telemetry.NewMetrics(reg)

	feed, err := buildFeeds(cfg, rec, log)
	if err != nil {
		return err
	}
	if feed != nil {
		defer feed.Close()
	}

	m, err := meter.New(sim, store, con, feed, mx, meter.Options{
		ARef:        cfg.Meter.ARef,
		SampleEvery: cfg.Meter.SampleEvery,
		HistorySize: cfg.Meter.HistorySize,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to build meter: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Sim.Enabled && cfg.Sim.Bench {
		bench := hw.NewBench(sim, hw.DefaultProfile(), log)
		go bench.Run(runCtx)
	}

	srv := api.New(m, reg, log)

	// Either half failing stops the other.
	errs := make(chan error, 2)
	go func() { errs <- m.Run(runCtx) }()
	go func() { errs <- srv.Serve(runCtx, cfg.API.Listen) }()

	err = <-errs
	cancel()
	if second := <-errs; err == nil {
		err = second
	}
	return err
}

// openConsole picks the command console transport. Simulated runs and
// hosts with no port configured talk over stdio; otherwise the operator
// console rides the configured serial port.
func openConsole(cfg *config.Config, log zerolog.Logger) console.Console {
	if cfg.Sim.Enabled || cfg.Serial.Port == "" {
		return console.NewStdio(log)
	}

	s := console.NewSerial(cfg.Serial.Port, cfg.Serial.Baud, log)
	if err := s.Open(); err != nil {
		log.Warn().Err(err).Str("port", cfg.Serial.Port).
			Msg("serial console unavailable, falling back to stdio")
		return console.NewStdio(log)
	}
	return s
}

// buildFeeds assembles the outbound publishers enabled by config. The
// HTTP feed reuses the endpoint and credentials from the settings
// record; credential changes take effect on the next start.
func buildFeeds(cfg *config.Config, rec settings.Settings, log zerolog.Logger) (feeds.Feed, error) {
	var multi feeds.Multi

	if cfg.Feeds.HTTP {
		if rec.FeedsURL == "" {
			log.Warn().Msg("http feed enabled but no feeds url provisioned")
		} else {
			multi = append(multi, feeds.NewHTTP(rec.FeedsURL, rec.FeedID, rec.APIKey, log))
		}
	}

	if cfg.Feeds.MQTTBroker != "" {
		mq, err := feeds.NewMQTT(cfg.Feeds.MQTTBroker, cfg.Feeds.MQTTTopic, rec.FeedID, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt feed: %w", err)
		}
		multi = append(multi, mq)
	}

	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
