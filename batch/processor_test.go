package batch

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/unbg/colorkey"
	"github.com/chaos-io/unbg/config"
	"github.com/chaos-io/unbg/fixture"
	"github.com/chaos-io/unbg/rembg"
	"github.com/chaos-io/unbg/util"
)

var (
	grayBg  = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
	subject = color.NRGBA{R: 30, G: 90, B: 200, A: 255}
)

func testConfig() Config {
	return Config{
		Matcher:      colorkey.DefaultSpec(),
		SeedMode:     rembg.SeedBorder,
		Workers:      2,
		Backup:       true,
		PreferBackup: true,
	}
}

func writeDisc(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, util.SaveImage(path, fixture.Disc(40, 30, grayBg, subject, 8)))
}

func openNRGBA(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	img, err := util.OpenImage(path)
	require.NoError(t, err)
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	return nrgba
}

func TestRun_InPlaceWithBackup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	writeDisc(t, in)
	original, err := os.ReadFile(in)
	require.NoError(t, err)

	results := Run(context.Background(), testConfig(), []config.Job{{Input: in}})
	require.Len(t, results, 1)
	r := results[0]
	require.True(t, r.Success, r.Error)
	assert.Equal(t, in, r.Output)
	assert.Equal(t, in, r.Source)
	assert.Equal(t, util.BackupPath(in), r.Backup)
	assert.Positive(t, r.Stats.Removed)
	assert.Nil(t, r.Image)

	backup, err := os.ReadFile(util.BackupPath(in))
	require.NoError(t, err)
	assert.Equal(t, original, backup)

	got := openNRGBA(t, in)
	assert.Zero(t, got.NRGBAAt(0, 0).A)
	assert.Equal(t, subject, got.NRGBAAt(20, 15))
	assert.Equal(t, grayBg.R, got.NRGBAAt(0, 0).R)

	// A second run starts again from the backup and gives the same result.
	again := Run(context.Background(), testConfig(), []config.Job{{Input: in}})
	require.True(t, again[0].Success, again[0].Error)
	assert.Equal(t, util.BackupPath(in), again[0].Source)
	assert.Equal(t, r.Stats.Removed, again[0].Stats.Removed)
	assert.Equal(t, got.Pix, openNRGBA(t, in).Pix)
}

func TestRun_SeparateOutputAndPreview(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	out := filepath.Join(dir, "out", "a.webp")
	writeDisc(t, in)

	cfg := testConfig()
	cfg.PreviewSize = 10
	results := Run(context.Background(), cfg, []config.Job{{Input: in, Output: out}})
	require.True(t, results[0].Success, results[0].Error)
	assert.Empty(t, results[0].Backup)

	_, err := os.Stat(util.BackupPath(in))
	assert.ErrorIs(t, err, os.ErrNotExist, "no backup when the input is not overwritten")

	_, err = os.Stat(out)
	require.NoError(t, err)
	preview, err := util.OpenImage(filepath.Join(dir, "out", "a_preview.png"))
	require.NoError(t, err)
	assert.Equal(t, 10, preview.Bounds().Dx())
}

func TestRun_FailuresDoNotStopTheBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writeDisc(t, good)
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))

	jobs := []config.Job{
		{Input: filepath.Join(dir, "missing.png")},
		{Input: bad},
		{Input: good},
	}
	results := Run(context.Background(), testConfig(), jobs)
	require.Len(t, results, 3)

	assert.False(t, results[0].Success)
	assert.ErrorIs(t, results[0].Err, os.ErrNotExist)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "decode")
	assert.True(t, results[2].Success, results[2].Error)

	ok, failed := Summary(results)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, failed)

	raw, err := os.ReadFile(bad)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(raw), "unreadable input is left untouched")
}

func TestRun_SaveFailureKeepsImageForRetry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	writeDisc(t, in)
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	cfg := testConfig()
	results := Run(context.Background(), cfg, []config.Job{{Input: in, Output: filepath.Join(blocker, "a.png")}})
	r := &results[0]
	require.False(t, r.Success)
	require.NotNil(t, r.Image)
	assert.Positive(t, r.Stats.Removed)

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, Retry(cfg, r))
	assert.True(t, r.Success)
	assert.Nil(t, r.Image)
	assert.Empty(t, r.Error)
	assert.Zero(t, openNRGBA(t, r.Output).NRGBAAt(0, 0).A)
}

func TestRetry_NothingToRetry(t *testing.T) {
	t.Parallel()

	r := &Result{Input: "a.png", Output: "a.png", Error: "open a.png: no such file"}
	assert.Error(t, Retry(testConfig(), r))
	assert.NoError(t, Retry(testConfig(), &Result{Success: true}))
}

func TestRun_BadMatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "a.png")
	writeDisc(t, in)

	cfg := testConfig()
	cfg.Matcher = colorkey.Spec{Kind: "rainbow"}
	results := Run(context.Background(), cfg, []config.Job{{Input: in}})
	assert.ErrorIs(t, results[0].Err, colorkey.ErrUnknownKind)
	_, err := os.Stat(util.BackupPath(in))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jobs := make([]config.Job, 5)
	for i := range jobs {
		jobs[i] = config.Job{Input: filepath.Join(dir, "a.png")}
	}
	writeDisc(t, jobs[0].Input)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := Run(ctx, testConfig(), jobs)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestWriteReport(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reports", "run.json")
	results := []Result{
		{Input: "a.png", Output: "a.png", Success: true, Stats: rembg.Stats{Width: 4, Height: 4, Removed: 12}},
		{Input: "b.png", Output: "b.png", Error: "decode b.png: bad"},
	}
	require.NoError(t, WriteReport(path, results))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, 12, report.Entries[0].Removed)
	assert.Equal(t, "decode b.png: bad", report.Entries[1].Error)
}

func TestPreviewPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("out", "a_preview.png"), PreviewPath(filepath.Join("out", "a.webp")))
	assert.Equal(t, "b_preview.png", PreviewPath("b.png"))
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	c := config.Default()
	c.PreviewSize = 64
	b := FromConfig(c)
	assert.Equal(t, c.Matcher, b.Matcher)
	assert.Equal(t, c.Workers, b.Workers)
	assert.Equal(t, 64, b.PreviewSize)
	assert.True(t, b.Backup)
}
