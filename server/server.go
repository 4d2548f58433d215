// Package server exposes background removal over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/unbg/colorkey"
	"github.com/chaos-io/unbg/rembg"
	"github.com/chaos-io/unbg/util"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
	formField       = "image"
	shutdownTimeout = 5 * time.Second
)

// Options are the defaults applied to every request. Query parameters may
// override the matcher and seed mode per request.
type Options struct {
	Matcher        colorkey.Spec
	SeedMode       rembg.SeedMode
	MaxUploadBytes int64
}

type Server struct {
	opts   Options
	engine *gin.Engine
}

func New(opts Options) *Server {
	s := &Server{opts: opts, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestID(), accessLog())

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := s.engine.Group("/v1")
	v1.GET("/config", s.config)
	v1.POST("/remove", s.remove)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDKey))
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestIDKey),
	})
}

func (s *Server) config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"matcher":          s.opts.Matcher,
		"seed_mode":        s.opts.SeedMode,
		"max_upload_bytes": s.opts.MaxUploadBytes,
	})
}

// remove takes a multipart upload in the "image" field and answers with the
// image, background made transparent, as PNG (or WebP with ?format=webp).
func (s *Server) remove(c *gin.Context) {
	if limit := s.opts.MaxUploadBytes; limit > 0 {
		if c.Request.ContentLength > limit {
			abort(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload larger than %d bytes", limit))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	spec, mode, err := s.requestOptions(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	ext := ".png"
	contentType := "image/png"
	switch c.DefaultQuery("format", "png") {
	case "png":
	case "webp":
		ext, contentType = ".webp", "image/webp"
	default:
		abort(c, http.StatusBadRequest, fmt.Errorf("%w %q", util.ErrUnsupportedFormat, c.Query("format")))
		return
	}

	img, err := readUpload(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		abort(c, http.StatusBadRequest, err)
		return
	}

	m, err := colorkey.New(spec, img)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}
	dst, stats, err := rembg.New(m, mode).Remove(c.Request.Context(), img)
	if err != nil {
		abort(c, http.StatusUnprocessableEntity, err)
		return
	}

	var buf bytes.Buffer
	if err := util.EncodeImage(&buf, ext, dst); err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	slog.Debug("removed background", "request_id", c.GetString(requestIDKey),
		"size", fmt.Sprintf("%dx%d", stats.Width, stats.Height), "removed", stats.Removed)
	c.Header("X-Removed-Pixels", strconv.Itoa(stats.Removed))
	c.Header("X-Image-Size", fmt.Sprintf("%dx%d", stats.Width, stats.Height))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func readUpload(c *gin.Context) (image.Image, error) {
	fh, err := c.FormFile(formField)
	if err != nil {
		return nil, fmt.Errorf("form field %q: %w", formField, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode upload %s: %w", fh.Filename, err)
	}
	return img, nil
}

// requestOptions applies the kind, tolerance, min, max and seed_mode query
// parameters over the server defaults.
func (s *Server) requestOptions(c *gin.Context) (colorkey.Spec, rembg.SeedMode, error) {
	spec := s.opts.Matcher
	if kind, ok := c.GetQuery("kind"); ok {
		spec.Kind = kind
	}

	for _, q := range []struct {
		name string
		dst  *int
	}{
		{"tolerance", &spec.ColorTolerance},
		{"min", &spec.BrightnessRange.Min},
		{"max", &spec.BrightnessRange.Max},
	} {
		raw, ok := c.GetQuery(q.name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return colorkey.Spec{}, "", fmt.Errorf("query %s: %w", q.name, err)
		}
		*q.dst = v
	}
	if err := spec.Validate(); err != nil {
		return colorkey.Spec{}, "", err
	}

	mode := s.opts.SeedMode
	if raw, ok := c.GetQuery("seed_mode"); ok {
		m, err := rembg.ParseSeedMode(raw)
		if err != nil {
			return colorkey.Spec{}, "", err
		}
		mode = m
	}
	return spec, mode, nil
}
