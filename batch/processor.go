package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaos-io/unbg/colorkey"
	"github.com/chaos-io/unbg/config"
	"github.com/chaos-io/unbg/rembg"
	"github.com/chaos-io/unbg/util"
	nhttp "github.com/chaos-io/unbg/util/http"
)

// Config holds all shared settings for a batch run.
type Config struct {
	Matcher      colorkey.Spec
	SeedMode     rembg.SeedMode
	Workers      int
	Backup       bool
	PreferBackup bool
	PreviewSize  int
	// Client downloads URL inputs; nil uses a default client.
	Client nhttp.IClient
}

// FromConfig picks the batch settings out of a resolved config.
func FromConfig(c config.Config) Config {
	return Config{
		Matcher:      c.Matcher,
		SeedMode:     c.SeedMode,
		Workers:      c.Workers,
		Backup:       c.Backup,
		PreferBackup: c.PreferBackup,
		PreviewSize:  c.PreviewSize,
	}
}

// Result holds the outcome of processing one job.
type Result struct {
	Input   string
	Output  string
	Source  string
	Backup  string
	Stats   rembg.Stats
	Success bool
	Error   string
	Err     error

	// Image is the processed image when only the save failed, so the
	// caller can retry it with Retry.
	Image *image.NRGBA

	Duration time.Duration
}

func (r Result) fail(err error, start time.Time) Result {
	r.Success = false
	r.Err = err
	r.Error = err.Error()
	r.Duration = time.Since(start)
	slog.Error("process image failed", "input", r.Input, "err", err)
	return r
}

// Run processes all jobs using a worker pool. Jobs not yet started when ctx
// is canceled are returned failed with the context error.
func Run(ctx context.Context, cfg Config, jobs []config.Job) []Result {
	total := len(jobs)
	results := make([]Result, total)
	var processed atomic.Int64

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	start := time.Now()

	// Progress reporter
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := processed.Load()
				if p > 0 {
					elapsed := time.Since(start).Seconds()
					slog.Info("progress", "done", p, "total", total, "images_per_sec", float64(p)/elapsed)
				}
			}
		}
	}()

	// Worker pool
	jobChan := make(chan int, workers*2)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobChan {
				results[idx] = processJob(ctx, cfg, jobs[idx])
				processed.Add(1)
			}
		}()
	}

	// Send work
	sent := 0
dispatch:
	for ; sent < total; sent++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobChan <- sent:
		}
	}
	close(jobChan)

	wg.Wait()
	close(done)

	for i := sent; i < total; i++ {
		results[i] = Result{Input: jobs[i].Input, Output: outputPath(jobs[i])}.fail(ctx.Err(), time.Now())
	}
	return results
}

func outputPath(job config.Job) string {
	if job.Output != "" {
		return job.Output
	}
	return job.Input
}

// PreviewPath is where the preview of output is written.
func PreviewPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + config.PreviewSuffix
}

func processJob(ctx context.Context, cfg Config, job config.Job) Result {
	start := time.Now()
	out := outputPath(job)
	inPlace := !util.IsURL(job.Input) && filepath.Clean(out) == filepath.Clean(job.Input)

	res := Result{Input: job.Input, Output: out, Source: util.SourceFor(job.Input, cfg.PreferBackup)}

	img, err := util.LoadImage(ctx, cfg.Client, res.Source)
	if err != nil {
		return res.fail(err, start)
	}

	m, err := colorkey.New(cfg.Matcher, img)
	if err != nil {
		return res.fail(fmt.Errorf("build matcher for %s: %w", job.Input, err), start)
	}

	dst, stats, err := rembg.New(m, cfg.SeedMode).Remove(ctx, img)
	if err != nil {
		return res.fail(fmt.Errorf("remove background of %s: %w", job.Input, err), start)
	}
	res.Stats = stats

	if inPlace && cfg.Backup {
		backup, created, err := util.Backup(job.Input)
		if err != nil {
			return res.fail(err, start)
		}
		res.Backup = backup
		if created {
			slog.Debug("backup created", "input", job.Input, "backup", backup)
		}
	}

	if err := save(res.Output, dst, cfg.PreviewSize); err != nil {
		res.Image = dst
		return res.fail(err, start)
	}

	res.Success = true
	res.Duration = time.Since(start)
	slog.Info("processed image",
		"input", job.Input,
		"size", fmt.Sprintf("%dx%d", stats.Width, stats.Height),
		"removed", stats.Removed,
		"output", res.Output,
		"duration", res.Duration)
	return res
}

func save(out string, img *image.NRGBA, previewSize int) error {
	if err := util.SaveImage(out, img); err != nil {
		return err
	}
	if previewSize > 0 {
		if err := util.SaveImage(PreviewPath(out), rembg.ResizeWithinMax(img, previewSize)); err != nil {
			return fmt.Errorf("preview: %w", err)
		}
	}
	return nil
}

// Retry saves the image kept by a result whose save failed.
func Retry(cfg Config, r *Result) error {
	if r.Success {
		return nil
	}
	if r.Image == nil {
		return errors.New("batch: nothing to retry, the image was not processed")
	}

	start := time.Now()
	if err := save(r.Output, r.Image, cfg.PreviewSize); err != nil {
		r.Err = err
		r.Error = err.Error()
		return err
	}

	r.Image = nil
	r.Err = nil
	r.Error = ""
	r.Success = true
	r.Duration += time.Since(start)
	slog.Info("processed image on retry", "input", r.Input, "removed", r.Stats.Removed, "output", r.Output)
	return nil
}

// Summary counts succeeded and failed results.
func Summary(results []Result) (ok, failed int) {
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
