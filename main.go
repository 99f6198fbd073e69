package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/config"
	"github.com/thetooth/ping-agent/decision"
	"github.com/thetooth/ping-agent/discovery"
	"github.com/thetooth/ping-agent/indicator"
	"github.com/thetooth/ping-agent/metrics"
	"github.com/thetooth/ping-agent/probe"
	"github.com/thetooth/ping-agent/sample"
	"github.com/thetooth/ping-agent/server"
	"github.com/thetooth/ping-agent/telemetry"
)

var (
	path        string
	noLED       bool
	printConfig bool
	logLevel    string
)

func main() {
	flag.StringVar(&path, "config", "", "Path to configuration file, searches ./ping-agent.yaml and /etc/ping-agent/ when empty")
	flag.BoolVar(&noLED, "noled", false, "Run without the LED indicator")
	flag.BoolVar(&printConfig, "print-config", false, "Print the effective configuration and exit")
	flag.StringVar(&logLevel, "log-level", "", "Override the configured log level")
	flag.Parse()

	// Attempt configuration file load
	cfg, err := config.Load(path)
	if err != nil {
		logrus.Fatal("Failed to load configuration: ", err)
	}
	applyFlags(cfg)

	if printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			logrus.Fatal(err)
		}
		return
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := bus.New()
	// Hooks run newest first, cancelling the context is the last step.
	events.OnShutdown(cancel)

	// Control signals
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		select {
		case sig := <-c:
			logrus.Info("Received ", sig, ", shutting down...")
			events.Shutdown()
		case <-ctx.Done():
		}
	}()

	targets, err := pingTargets(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logrus.Fatal("Failed to discover ping targets: ", err)
	}

	collector := metrics.NewCollector()
	collector.Subscribe(events)

	engine := decision.New(targets, events, engineOptions(cfg))
	events.SubscribeSamples(engine)

	client := telemetry.NewClient(cfg.APIEndpoint, cfg.SubmitTimeout.Duration)
	batcher := telemetry.NewBatcher(ctx, cfg.Token, cfg.APISubmitPingsInterval, targets, client)
	batcher.OnResult = collector.SubmissionResult
	events.SubscribeSamples(batcher)

	led := startIndicator(cfg)
	events.SubscribeQuality(led)
	events.SubscribeAlerts(led)
	events.OnShutdown(led.Close)

	supervisors := make([]*probe.Supervisor, 0, len(targets))
	for _, t := range targets {
		sup := probe.NewSupervisor(t, events, probe.Options{
			RestartDelay:  cfg.ProbeRestartDelay.Duration,
			OnStateChange: collector.ProbeStateChanged,
		})
		supervisors = append(supervisors, sup)
		events.OnShutdown(sup.Stop)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		return led.Run(gctx)
	})
	for _, sup := range supervisors {
		sup := sup
		g.Go(func() error {
			return sup.Run(gctx)
		})
	}

	if cfg.Listen != "" {
		srv := server.New(server.Options{
			Probes:         supervisors,
			Metrics:        collector.Handler(),
			AllowedOrigins: cfg.AllowedOrigins,
		})
		srv.Subscribe(events)
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Listen)
		})
	}

	if path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, func(next *config.Config) {
				applyFlags(next)
				setLogLevel(next.LogLevel)
				engine.Reconfigure(engineOptions(next))
				if next.Brightness != cfg.Brightness {
					led.SetBrightness(next.Brightness)
				}
				cfg = next
			})
		})
	}

	if err := g.Wait(); err != nil {
		logrus.Error("Agent stopped: ", err)
	}
	events.Shutdown()
	batcher.Wait()

	for _, t := range targets {
		logrus.Info("[ EXIT_CLEANUP ] target: ", t)
	}
}

func applyFlags(cfg *config.Config) {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if noLED {
		cfg.Indicator.Enabled = false
	}
}

func setLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warn("Invalid log level ", level, ": ", err)
		return
	}
	logrus.SetLevel(lvl)
}

func engineOptions(cfg *config.Config) decision.Options {
	return decision.Options{
		Interval:        cfg.LocalWatcherInterval.Duration,
		Capacity:        cfg.BufferSize,
		SpikeWindow:     cfg.SpikePingSample,
		MinSamples:      cfg.MinSamples,
		SpikeThreshold:  cfg.SpikeAlertThreshold,
		SensitiveTarget: cfg.SensitiveTarget,
	}
}

// pingTargets returns local, gateway and internet in that order. Configured
// addresses win over discovered ones.
func pingTargets(ctx context.Context, cfg *config.Config) ([]sample.Target, error) {
	local, gateway := cfg.LocalTarget, cfg.GatewayTarget

	if local == "" || gateway == "" {
		res, err := discovery.New(cfg.InternetTarget, cfg.DiscoveryRetry.Duration).Discover(ctx)
		if err != nil {
			return nil, err
		}
		if local == "" {
			local = res.Local
		}
		if gateway == "" {
			gateway = res.Gateway
		}
	}

	targets := []sample.Target{
		{ID: sample.Local, Address: local},
		{ID: sample.Gateway, Address: gateway},
		{ID: sample.Internet, Address: cfg.InternetTarget},
	}
	logrus.Info("Ping targets discovered. Local: ", local, " Gateway: ", gateway, " Internet: ", cfg.InternetTarget)
	return targets, nil
}

func startIndicator(cfg *config.Config) *indicator.Driver {
	if !cfg.Indicator.Enabled {
		return indicator.NewLogDriver(cfg.KeepAliveTime.Duration)
	}

	led, err := indicator.Start(indicator.Options{
		Command:    cfg.Indicator.Command,
		Pixels:     cfg.Indicator.Pixels,
		WaitMs:     cfg.Indicator.WaitMs,
		Brightness: cfg.Brightness,
		KeepAlive:  cfg.KeepAliveTime.Duration,
	})
	if err != nil {
		logrus.Error("Failed to start indicator, continuing without LED: ", err)
		return indicator.NewLogDriver(cfg.KeepAliveTime.Duration)
	}
	return led
}
