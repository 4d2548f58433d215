package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/unbg/batch"
	"github.com/chaos-io/unbg/config"
	"github.com/chaos-io/unbg/fixture"
	"github.com/chaos-io/unbg/server"
	"github.com/chaos-io/unbg/util/crawler"
)

const desc = `Makes the flat, gray or checkerboard background of images transparent.
Background is whatever matches the colour predicate and is connected to the image border.`

type Globals struct {
	Config   string `short:"c" type:"path" help:"YAML or JSON config file."`
	LogLevel string `default:"info" enum:"debug,info,warn,error" help:"Log level (${enum})."`
}

// MatcherFlags override the matcher section of the config file.
type MatcherFlags struct {
	Kind          string `help:"Matcher kind: gray, light, checker, lab, script, auto, auto-checker."`
	Tolerance     int    `default:"-1" help:"Max channel difference for a colour to count as gray, -1 keeps the config value."`
	MinBrightness int    `default:"-1" help:"Lowest channel value of the gray matcher, -1 keeps the config value."`
	MaxBrightness int    `default:"-1" help:"Highest channel value of the gray matcher, -1 keeps the config value."`
	SeedMode      string `help:"border (connected to the edge) or sweep (every matching pixel)."`
}

// BatchFlags are shared by run and watch.
type BatchFlags struct {
	Inputs      []string `arg:"" optional:"" help:"Image files, directories or http(s) URLs. Defaults to the jobs of the config file."`
	Output      string   `short:"o" help:"Output file, only with a single input."`
	OutDir      string   `help:"Write results into this directory instead of overwriting the inputs."`
	Workers     int      `short:"j" help:"Parallel workers, 0 uses the config value or the CPU count."`
	NoBackup    bool     `help:"Do not copy an input to <input>.backup before overwriting it."`
	PreviewSize int      `default:"-1" help:"Also write <output>_preview.png with this longest side, 0 disables."`
	Report      string   `help:"Write a JSON report to this path."`
	Page        string   `help:"Also process every <img> of this HTML page (needs --out-dir)."`
	PageFilter  string   `help:"Only take page images whose URL contains this text."`

	Matcher MatcherFlags `embed:""`
}

func (b BatchFlags) flags() config.Flags {
	return config.Flags{
		Inputs:        b.Inputs,
		Output:        b.Output,
		OutDir:        b.OutDir,
		Kind:          b.Matcher.Kind,
		Tolerance:     b.Matcher.Tolerance,
		MinBrightness: b.Matcher.MinBrightness,
		MaxBrightness: b.Matcher.MaxBrightness,
		SeedMode:      b.Matcher.SeedMode,
		Workers:       b.Workers,
		NoBackup:      b.NoBackup,
		PreviewSize:   b.PreviewSize,
		Report:        b.Report,
	}
}

// collect adds the images found on --page to the inputs.
func (b BatchFlags) collect(ctx context.Context) (config.Flags, error) {
	flags := b.flags()
	if b.Page == "" {
		return flags, nil
	}
	urls, err := crawler.ImageURLs(ctx, nil, b.Page, b.PageFilter)
	if err != nil {
		return config.Flags{}, err
	}
	slog.Info("collected page images", "page", b.Page, "images", len(urls))
	flags.Inputs = append(flags.Inputs, urls...)
	return flags, nil
}

type RunCmd struct {
	BatchFlags `embed:""`
}

func (r *RunCmd) Run(ctx context.Context, g *Globals) error {
	flags, err := r.collect(ctx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(g, flags, true)
	if err != nil {
		return err
	}
	return runBatch(ctx, cfg)
}

type WatchCmd struct {
	Schedule string `help:"Cron spec such as \"*/10 * * * *\" or \"@every 5m\"."`

	BatchFlags `embed:""`
}

func (w *WatchCmd) Run(ctx context.Context, g *Globals) error {
	flags, err := w.collect(ctx)
	if err != nil {
		return err
	}
	flags.Schedule = w.Schedule
	cfg, err := loadConfig(g, flags, true)
	if err != nil {
		return err
	}
	if cfg.Schedule == "" {
		return errors.New("watch needs a schedule, set --schedule or schedule in the config file")
	}

	run := func() {
		if err := runBatch(ctx, cfg); err != nil {
			slog.Error("scheduled run failed", "err", err)
		}
	}

	logger := cronLogger{slog.Default()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(cfg.Schedule, run); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}

	run()
	c.Start()
	slog.Info("watching", "schedule", cfg.Schedule, "jobs", len(cfg.Jobs))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type ServeCmd struct {
	Listen         string `help:"Address to listen on."`
	MaxUploadBytes int64  `help:"Largest accepted upload, 0 uses the config value."`

	Matcher MatcherFlags `embed:""`
}

func (s *ServeCmd) Run(ctx context.Context, g *Globals) error {
	flags := config.NoFlags()
	flags.Listen = s.Listen
	flags.Kind = s.Matcher.Kind
	flags.Tolerance = s.Matcher.Tolerance
	flags.MinBrightness = s.Matcher.MinBrightness
	flags.MaxBrightness = s.Matcher.MaxBrightness
	flags.SeedMode = s.Matcher.SeedMode

	cfg, err := loadConfig(g, flags, false)
	if err != nil {
		return err
	}
	if s.MaxUploadBytes > 0 {
		cfg.MaxUploadBytes = s.MaxUploadBytes
	}

	return server.New(server.Options{
		Matcher:        cfg.Matcher,
		SeedMode:       cfg.SeedMode,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}).Run(ctx, cfg.Listen)
}

type FixtureCmd struct {
	Out string `default:"fixtures" type:"path" help:"Directory to write the sample images into."`
}

func (f *FixtureCmd) Run() error {
	paths, err := fixture.WriteSamples(f.Out)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

type CLI struct {
	Globals

	Run     RunCmd     `cmd:"" default:"withargs" help:"Remove the background of images (default)."`
	Watch   WatchCmd   `cmd:"" help:"Run the batch on a cron schedule until interrupted."`
	Serve   ServeCmd   `cmd:"" help:"Serve background removal over HTTP."`
	Fixture FixtureCmd `cmd:"" help:"Write synthetic sample images."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("unbg"),
		kong.Description(desc),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	setupLogger(cli.LogLevel)

	err := kctx.Run()
	stop()
	kctx.FatalIfErrorf(err)
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func loadConfig(g *Globals, flags config.Flags, withJobs bool) (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Resolve(flags); err != nil {
		return config.Config{}, err
	}
	if withJobs {
		if err := cfg.Expand(); err != nil {
			return config.Config{}, err
		}
		if len(cfg.Jobs) == 0 {
			return config.Config{}, errors.New("no inputs, pass image paths or set jobs in the config file")
		}
	} else {
		cfg.Jobs = nil
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runBatch(ctx context.Context, cfg config.Config) error {
	bcfg := batch.FromConfig(cfg)
	results := batch.Run(ctx, bcfg, cfg.Jobs)

	for i := range results {
		r := &results[i]
		if r.Success || r.Image == nil {
			continue
		}
		slog.Warn("retrying save", "output", r.Output, "err", r.Err)
		if err := batch.Retry(bcfg, r); err != nil {
			slog.Error("save failed again", "output", r.Output, "err", err)
		}
	}

	for _, r := range results {
		if r.Success {
			fmt.Printf("%s: removed %d pixels -> %s\n", r.Input, r.Stats.Removed, r.Output)
		} else {
			fmt.Printf("%s: failed: %s\n", r.Input, r.Error)
		}
	}
	ok, failed := batch.Summary(results)
	fmt.Printf("Done! processed %d, failed %d\n", ok, failed)

	if cfg.Report != "" {
		if err := batch.WriteReport(cfg.Report, results); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	*slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.Logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
