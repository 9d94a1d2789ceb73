// Command imgopt optimizes images from the command line or over HTTP.
package main

import (
	"context"
	"mime"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	imageoptimizer "github.com/Skryldev/image-optimizer"
	"github.com/Skryldev/image-optimizer/adapters/storage"
	"github.com/Skryldev/image-optimizer/adapters/vips"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
	"github.com/Skryldev/image-optimizer/hooks"
)

// BuildNumber is set at link time.
var BuildNumber = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "imgopt"
	app.Usage = "batch image optimizer"
	app.Version = BuildNumber
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:   "debug, d",
			Usage:  "debug mode activation",
			EnvVar: config.EnvPrefix + "DEBUG",
		},
		cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv file(s) to load before reading " + config.EnvPrefix + "* variables",
		},
		cli.StringFlag{
			Name:   "pl",
			Usage:  "pprof HTTP listener",
			EnvVar: config.EnvPrefix + "PPROF_LISTENER",
		},
		cli.BoolFlag{
			Name:   "accelerated, a",
			Usage:  "enable the libvips compression pass",
			EnvVar: config.EnvPrefix + "ACCELERATED",
		},
	}

	settingsFlags := []cli.Flag{
		cli.StringFlag{Name: "format, f", Value: "auto", Usage: "output format: auto, jpeg, png or webp"},
		cli.IntFlag{Name: "quality, q", Usage: "quality 1-100; 0 lets the analyzer pick"},
		cli.Float64Flag{Name: "target-kb, t", Usage: "target output size in KB; enables the quality search"},
		cli.IntFlag{Name: "width", Usage: "requested width"},
		cli.IntFlag{Name: "height", Usage: "requested height"},
		cli.BoolFlag{Name: "percent", Usage: "interpret width/height as percentages"},
		cli.BoolFlag{Name: "stretch", Usage: "do not maintain the aspect ratio"},
	}

	app.Commands = []cli.Command{
		{
			Name:      "optimize",
			Aliases:   []string{"o"},
			Usage:     "optimize image files and write them to the output directory",
			ArgsUsage: "FILE...",
			Action:    optimize,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:   "out, o",
					Usage:  "output directory",
					EnvVar: config.EnvPrefix + "STORAGE_DIR",
				},
			}, settingsFlags...),
		},
		{
			Name:    "serve",
			Aliases: []string{"s"},
			Usage:   "serve the optimizer over HTTP",
			Action:  serve,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "listen, l",
					Usage:  "HTTP listen address",
					EnvVar: config.EnvPrefix + "LISTEN",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by all commands.
func setup(c *cli.Context) (config.Config, zerolog.Logger, error) {
	zerolog.TimeFieldFormat = "20060102T150405.999Z07:00"
	zerolog.TimestampFieldName = "t"
	zerolog.MessageFieldName = "msg"
	zerolog.LevelFieldName = "lvl"

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.FromEnv(config.Default(), c.GlobalStringSlice("env-file")...)
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("configuration load failed")
		return cfg, logger, err
	}
	if c.GlobalBool("accelerated") {
		cfg.Accelerated.Enabled = true
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if c.GlobalBool("debug") {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := config.Validate(cfg); err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("configuration invalid")
		return cfg, logger, err
	}

	if c.GlobalIsSet("pl") {
		go func(listen string) {
			logger.Info().Str("pl", listen).Msg("start pprof http listener")
			if err := http.ListenAndServe(listen, nil); err != nil {
				logger.Error().Str("errmsg", err.Error()).Msg("pprof listener starting failed")
			}
		}(c.GlobalString("pl"))
	}
	return cfg, logger, nil
}

func newOptimizer(cfg config.Config, logger zerolog.Logger, extra ...imageoptimizer.Option) (*imageoptimizer.Optimizer, error) {
	log := hooks.NewZerologLogger(logger)
	opts := append([]imageoptimizer.Option{
		imageoptimizer.WithLogger(log),
		imageoptimizer.WithHooks(hooks.NewLoggingHook(log)),
		imageoptimizer.WithCompressorFactory(vips.Factory),
	}, extra...)
	return imageoptimizer.New(cfg, opts...)
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-stop:
			logger.Info().Str("signal", s.String()).Msg("signal captured")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(stop)
	}()
	return ctx, cancel
}

func optimize(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	if c.NArg() == 0 {
		logger.Error().Msg("no input files")
		return cli.NewExitError("no input files", 2)
	}

	settings, err := settingsFromFlags(c)
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("invalid settings")
		return err
	}

	files := make([]core.SourceFile, 0, c.NArg())
	for _, name := range c.Args() {
		data, err := os.ReadFile(name)
		if err != nil {
			logger.Error().Str("file", name).Str("errmsg", err.Error()).Msg("input file read failed")
			return err
		}
		files = append(files, core.SourceFile{
			Data:     data,
			Name:     filepath.Base(name),
			MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
			Size:     int64(len(data)),
		})
	}

	outDir := c.String("out")
	if outDir == "" {
		outDir = cfg.Storage.RootDir
	}
	store, err := storage.NewLocal(outDir, os.FileMode(cfg.Storage.Permissions))
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("output directory unavailable")
		return err
	}

	opt, err := newOptimizer(cfg, logger)
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("optimizer setup failed")
		return err
	}
	defer opt.Close()

	ctx, cancel := interruptible(logger)
	defer cancel()

	started := time.Now()
	run, runErr := opt.OptimizeWithProgress(ctx, files, settings, func(p core.Progress) {
		ev := logger.Info()
		if p.Last.Status == core.StatusError {
			ev = logger.Warn().Str("errmsg", p.Last.ErrorMessage)
		}
		ev.Str("file", p.Last.OriginalName).
			Str("status", string(p.Last.Status)).
			Int64("bytes", p.Last.NewSize).
			Float64("savings", p.Last.SavingsPercent).
			Float64("progress", p.Percent).
			Msg("item finished")
	})
	if run == nil {
		logger.Error().Str("errmsg", runErr.Error()).Msg("batch rejected")
		return runErr
	}

	keys, err := storage.SaveRun(context.WithoutCancel(ctx), store, "", run)
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("output write failed")
		return err
	}

	logger.Info().
		Str("run", run.ID).
		Int("succeeded", run.SuccessCount).
		Int("failed", run.ErrorCount).
		Int("written", len(keys)).
		Int64("original_bytes", run.TotalOriginalSize).
		Int64("new_bytes", run.TotalNewSize).
		Float64("savings", core.SavingsPercent(run.TotalOriginalSize, run.TotalNewSize)).
		Str("out", store.Root()).
		Str("dur", time.Since(started).String()).
		Msg("completed")

	if runErr != nil {
		return runErr
	}
	if run.ErrorCount > 0 {
		return cli.NewExitError("some files failed", 1)
	}
	return nil
}

func settingsFromFlags(c *cli.Context) (core.Settings, error) {
	s := imageoptimizer.DefaultSettings()
	s.Format = core.ParseFormat(c.String("format"))
	s.Quality = c.Int("quality")
	s.TargetSizeKB = c.Float64("target-kb")

	w, h := c.Int("width"), c.Int("height")
	s.Resize.ResizeEnabled = w > 0 || h > 0
	s.Resize.Width, s.Resize.Height = w, h
	s.Resize.MaintainAspectRatio = !c.Bool("stretch")
	if c.Bool("percent") {
		s.Resize.Unit = core.UnitPercent
	}

	// Search bounds are filled from config by the processor.
	probe := s
	probe.MinQuality, probe.MaxQuality, probe.MaxIterations, probe.Tolerance = 1, 100, 1, 0.5
	return s, core.ValidateSettings(probe)
}
