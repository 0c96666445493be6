package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sharedbus/cmd/sharedbus/console"
	"github.com/mklimuk/sharedbus/config"
	"github.com/mklimuk/sharedbus/environment"
	"github.com/mklimuk/sharedbus/monitor"
	"github.com/mklimuk/sharedbus/motion"
	"github.com/mklimuk/sharedbus/shared"
	"github.com/mklimuk/sharedbus/snsctx"
)

var pollFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "interval",
		Usage:   "pause between poll iterations",
		EnvVars: []string{"SHAREDBUS_INTERVAL"},
	},
	&cli.IntFlag{
		Name:    "iterations",
		Aliases: []string{"n"},
		Usage:   "stop after that many iterations (0 runs forever)",
	},
	&cli.IntFlag{
		Name:    "max-failures",
		Usage:   "abort after that many consecutive failed iterations (1 stops at the first failure)",
		EnvVars: []string{"SHAREDBUS_MAX_FAILURES"},
	},
	&cli.BoolFlag{
		Name:  "fail-fast",
		Usage: "abort on the first failed iteration, overriding max-failures",
	},
	&cli.StringFlag{
		Name:  "climate-mode",
		Usage: "SHTC3 measurement mode: normal or low_power",
	},
	&cli.StringFlag{
		Name:  "imu-mode",
		Usage: "ICM-42670-P power mode, e.g. gyro_low_noise",
	},
	&cli.StringFlag{
		Name:    "metrics-listen",
		Usage:   "serve prometheus metrics on this address",
		EnvVars: []string{"SHAREDBUS_METRICS_LISTEN"},
	},
}

func applyPollFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("interval") {
		cfg.Poll.Interval = c.Duration("interval")
	}
	if c.IsSet("iterations") {
		cfg.Poll.Iterations = c.Int("iterations")
	}
	if c.IsSet("max-failures") {
		cfg.Poll.MaxFailures = c.Int("max-failures")
	}
	if c.Bool("fail-fast") {
		cfg.Poll.MaxFailures = 1
	}
	if c.IsSet("climate-mode") {
		cfg.Poll.ClimateMode = c.String("climate-mode")
	}
	if c.IsSet("imu-mode") {
		cfg.Poll.IMUMode = c.String("imu-mode")
	}
	if c.IsSet("metrics-listen") {
		cfg.Metrics.Listen = c.String("metrics-listen")
	}
}

var runCmd = cli.Command{
	Name:  "run",
	Usage: "identify both sensors and poll them on a fixed cadence",
	Flags: append(append([]cli.Flag{}, busFlags...), pollFlags...),
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		loopCfg, err := cfg.Poll.Monitor()
		if err != nil {
			return console.Exit(console.ExitConfig, "configuration error: %s", console.Red(err))
		}

		var reg *prometheus.Registry
		if cfg.Metrics.Listen != "" {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewBuildInfoCollector(), collectors.NewGoCollector())
		}
		m, err := openManager(c, cfg, registerer(reg))
		if err != nil {
			return err
		}
		defer closeManager(m)

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = snsctx.SetVerbose(ctx, c.Bool("verbose"))

		opts := []monitor.Option{monitor.WithOutput(console.Output())}
		if reg != nil {
			opts = append(opts, monitor.WithMetrics(monitor.NewMetrics(reg)))
			srv := serveMetrics(cfg.Metrics.Listen, reg)
			defer shutdown(srv)
		}
		loop := newLoop(m, loopCfg, opts...)
		slog.Info("polling sensors", "bus", describe(cfg.Bus), "interval", loopCfg.Interval, "max_failures", loopCfg.MaxConsecutiveFailures)
		if err := loop.Run(ctx); err != nil {
			if errors.Is(err, monitor.ErrTooManyFailures) {
				return console.Exit(console.ExitBus, "polling aborted: %s", console.Failure(err))
			}
			return console.Exit(console.ExitBus, "initialization failed: %s", console.Failure(err))
		}
		return nil
	},
}

func newLoop(m *shared.Manager, cfg monitor.Config, opts ...monitor.Option) *monitor.Loop {
	sht := environment.NewSHTC3(m.Acquire(shared.Named("shtc3")))
	imu := motion.NewICM42670(m.Acquire(shared.Named("icm42670")))
	return monitor.NewLoop(sht, imu, cfg, opts...)
}

// registerer avoids handing a typed nil to the arbiter.
func registerer(reg *prometheus.Registry) prometheus.Registerer {
	if reg == nil {
		return nil
	}
	return reg
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
