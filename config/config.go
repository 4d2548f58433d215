package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/chaos-io/unbg/colorkey"
	"github.com/chaos-io/unbg/rembg"
	"github.com/chaos-io/unbg/util"
)

const (
	DefaultListen         = ":8080"
	DefaultMaxUploadBytes = 32 << 20

	// PreviewSuffix ends the name of the preview written next to an output.
	PreviewSuffix = "_preview.png"
)

// Job is one input image and where its result goes. An empty Output
// overwrites the input.
type Job struct {
	Input  string `yaml:"input" json:"input"`
	Output string `yaml:"output" json:"output,omitempty"`
}

// Config holds every setting of the run, watch and serve commands.
type Config struct {
	Jobs []Job `yaml:"jobs"`

	// Removal
	Matcher  colorkey.Spec  `yaml:"matcher"`
	SeedMode rembg.SeedMode `yaml:"seed_mode"`

	// Batch
	Workers      int    `yaml:"workers"`
	Backup       bool   `yaml:"backup"`
	PreferBackup bool   `yaml:"prefer_backup"`
	PreviewSize  int    `yaml:"preview_size"`
	Report       string `yaml:"report"`
	Schedule     string `yaml:"schedule"`

	// Server
	Listen         string `yaml:"listen"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// Default returns the settings used when neither a file nor a flag says otherwise.
func Default() Config {
	return Config{
		Matcher:        colorkey.DefaultSpec(),
		SeedMode:       rembg.SeedBorder,
		Workers:        runtime.NumCPU(),
		Backup:         true,
		PreferBackup:   true,
		Listen:         DefaultListen,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// Load reads a YAML (or JSON) config file on top of Default.
// Fields not set in the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds CLI flag values that override config file settings.
// Negative numbers mean "not set".
type Flags struct {
	Inputs []string
	Output string
	OutDir string

	Kind          string
	Tolerance     int
	MinBrightness int
	MaxBrightness int
	SeedMode      string

	Workers     int
	NoBackup    bool
	PreviewSize int
	Report      string
	Schedule    string

	Listen string
}

// NoFlags is a Flags value that overrides nothing.
func NoFlags() Flags {
	return Flags{Tolerance: -1, MinBrightness: -1, MaxBrightness: -1, PreviewSize: -1}
}

// Resolve applies flags over the loaded settings and fills remaining defaults.
func (c *Config) Resolve(flags Flags) error {
	if len(flags.Inputs) > 0 {
		if flags.Output != "" && len(flags.Inputs) > 1 {
			return errors.New("config: --output needs exactly one input, use --out-dir")
		}
		c.Jobs = make([]Job, len(flags.Inputs))
		for i, in := range flags.Inputs {
			c.Jobs[i] = Job{Input: in, Output: flags.Output}
		}
	}
	if flags.OutDir != "" {
		for i := range c.Jobs {
			if c.Jobs[i].Output != "" {
				continue
			}
			if isDir(c.Jobs[i].Input) {
				c.Jobs[i].Output = flags.OutDir
			} else {
				c.Jobs[i].Output = filepath.Join(flags.OutDir, baseName(c.Jobs[i].Input))
			}
		}
	}

	if flags.Kind != "" {
		c.Matcher.Kind = flags.Kind
	}
	if flags.Tolerance >= 0 {
		c.Matcher.ColorTolerance = flags.Tolerance
	}
	if flags.MinBrightness >= 0 {
		c.Matcher.BrightnessRange.Min = flags.MinBrightness
	}
	if flags.MaxBrightness >= 0 {
		c.Matcher.BrightnessRange.Max = flags.MaxBrightness
	}
	if flags.SeedMode != "" {
		c.SeedMode = rembg.SeedMode(flags.SeedMode)
	}
	if flags.Workers > 0 {
		c.Workers = flags.Workers
	}
	if flags.NoBackup {
		c.Backup = false
	}
	if flags.PreviewSize >= 0 {
		c.PreviewSize = flags.PreviewSize
	}
	if flags.Report != "" {
		c.Report = flags.Report
	}
	if flags.Schedule != "" {
		c.Schedule = flags.Schedule
	}
	if flags.Listen != "" {
		c.Listen = flags.Listen
	}

	if c.SeedMode == "" {
		c.SeedMode = rembg.SeedBorder
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Matcher.Validate(); err != nil {
		return fmt.Errorf("config: matcher: %w", err)
	}
	if _, err := rembg.ParseSeedMode(string(c.SeedMode)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.PreviewSize < 0 {
		return fmt.Errorf("config: preview_size must not be negative, got %d", c.PreviewSize)
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("config: schedule %q: %w", c.Schedule, err)
		}
	}

	outputs := make(map[string]int, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Input == "" {
			return fmt.Errorf("config: jobs[%d]: empty input", i)
		}
		out := job.Output
		if out == "" {
			if util.IsURL(job.Input) {
				return fmt.Errorf("config: jobs[%d]: url input %s needs an output", i, job.Input)
			}
			out = job.Input
		}
		switch strings.ToLower(filepath.Ext(out)) {
		case ".png", ".webp":
		default:
			return fmt.Errorf("config: jobs[%d]: output %s: %w", i, out, util.ErrUnsupportedFormat)
		}
		key := filepath.Clean(out)
		if prev, ok := outputs[key]; ok {
			return fmt.Errorf("config: jobs[%d] and jobs[%d] both write %s", prev, i, out)
		}
		outputs[key] = i
	}
	return nil
}

// imageExts are the input extensions picked up from a directory.
var imageExts = map[string]bool{
	".png": true, ".webp": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".bmp": true, ".tif": true, ".tiff": true, ".tga": true,
}

// Expand replaces every job whose input is a directory with one job per
// image file in it. The job output, when set, is taken as the output directory.
// Non-PNG/WebP inputs get a .png output name and are skipped when that name
// is already taken by another file of the directory. Previews written by an
// earlier run are not inputs.
func (c *Config) Expand() error {
	jobs := make([]Job, 0, len(c.Jobs))
	for _, job := range c.Jobs {
		if !isDir(job.Input) {
			jobs = append(jobs, job)
			continue
		}

		entries, err := os.ReadDir(job.Input)
		if err != nil {
			return fmt.Errorf("config: read dir %s: %w", job.Input, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			lower := strings.ToLower(e.Name())
			if e.IsDir() || !imageExts[filepath.Ext(lower)] || strings.HasSuffix(lower, PreviewSuffix) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		taken := make(map[string]bool, len(names))
		for _, name := range names {
			if outputName(name) == name {
				taken[name] = true
			}
		}

		for _, name := range names {
			if outputName(name) != name {
				if taken[outputName(name)] {
					continue
				}
				taken[outputName(name)] = true
			}
			in := filepath.Join(job.Input, name)
			out := ""
			if job.Output != "" {
				out = filepath.Join(job.Output, outputName(name))
			} else if outputName(name) != name {
				out = filepath.Join(job.Input, outputName(name))
			}
			jobs = append(jobs, Job{Input: in, Output: out})
		}
	}
	c.Jobs = jobs
	return nil
}

func isDir(p string) bool {
	if util.IsURL(p) {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// outputName keeps .png and .webp names and renames everything else to .png.
func outputName(name string) string {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".png", ".webp":
		return name
	}
	return strings.TrimSuffix(name, ext) + ".png"
}

// baseName is the output file name for an input path or URL.
func baseName(input string) string {
	if util.IsURL(input) {
		if u, err := url.Parse(input); err == nil {
			if b := path.Base(u.Path); b != "." && b != "/" {
				return outputName(b)
			}
		}
		return "download.png"
	}
	return outputName(filepath.Base(input))
}
