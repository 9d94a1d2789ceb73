package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	imageoptimizer "github.com/Skryldev/image-optimizer"
	"github.com/Skryldev/image-optimizer/core"
	apperrors "github.com/Skryldev/image-optimizer/errors"
	"github.com/Skryldev/image-optimizer/hooks"
)

// server exposes one Optimizer over HTTP.  Concurrent requests queue on the
// Optimizer, which runs one batch at a time; the handler only adapts requests.
type server struct {
	opt     *imageoptimizer.Optimizer
	log     zerolog.Logger
	timeout time.Duration
	metrics fasthttp.RequestHandler
}

// itemResponse is the JSON form of one ProcessingResult.  Data holds the
// encoded bytes (base64 in JSON) for successful items.
type itemResponse struct {
	OriginalName   string  `json:"original_name"`
	OriginalSize   int64   `json:"original_size"`
	NewName        string  `json:"new_name,omitempty"`
	NewSize        int64   `json:"new_size,omitempty"`
	Format         string  `json:"format,omitempty"`
	MIMEType       string  `json:"mime_type,omitempty"`
	SavingsPercent float64 `json:"savings_percent"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Quality        int     `json:"quality,omitempty"`
	Iterations     int     `json:"iterations,omitempty"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
	Data           []byte  `json:"data,omitempty"`
}

type runResponse struct {
	RunID             string         `json:"run_id"`
	TotalOriginalSize int64          `json:"total_original_size"`
	TotalNewSize      int64          `json:"total_new_size"`
	SuccessCount      int            `json:"success_count"`
	ErrorCount        int            `json:"error_count"`
	Cancelled         bool           `json:"cancelled"`
	Results           []itemResponse `json:"results"`
}

func newServer(opt *imageoptimizer.Optimizer, log zerolog.Logger, timeout time.Duration, metrics *hooks.PrometheusMetrics) *server {
	s := &server{opt: opt, log: log, timeout: timeout}
	if metrics != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return s
}

func (s *server) handle(ctx *fasthttp.RequestCtx) {
	reqID := string(ctx.Request.Header.Peek("X-Request-ID"))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx.Response.Header.Set("X-Request-ID", reqID)

	switch string(ctx.Path()) {
	case "/optimize":
		if !ctx.IsPost() {
			ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.optimize(ctx, reqID)
	case "/formats":
		s.formats(ctx)
	case "/healthz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case "/metrics":
		if s.metrics == nil {
			ctx.Error("not found", fasthttp.StatusNotFound)
			return
		}
		s.metrics(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *server) formats(ctx *fasthttp.RequestCtx) {
	out := map[string]bool{}
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		out[string(f)] = s.opt.IsFormatSupported(f)
	}
	s.writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *server) optimize(ctx *fasthttp.RequestCtx, reqID string) {
	log := s.log.With().Str("request", reqID).Logger()

	settings, err := settingsFromArgs(ctx.QueryArgs())
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.Error("multipart form expected: "+err.Error(), fasthttp.StatusBadRequest)
		return
	}
	files, err := readFiles(form.File["files"])
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	runCtx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
		defer cancel()
	}

	run, err := s.opt.Optimize(runCtx, files, settings)
	if run == nil {
		log.Warn().Str("errmsg", err.Error()).Msg("batch rejected")
		code := fasthttp.StatusServiceUnavailable
		if apperrors.IsCategory(err, apperrors.CategoryInput) || apperrors.IsCategory(err, apperrors.CategoryConfig) {
			code = fasthttp.StatusBadRequest
		}
		ctx.Error(err.Error(), code)
		return
	}
	log.Info().
		Str("run", run.ID).
		Int("succeeded", run.SuccessCount).
		Int("failed", run.ErrorCount).
		Bool("cancelled", run.Cancelled).
		Msg("batch served")

	s.writeJSON(ctx, fasthttp.StatusOK, toResponse(run))
}

func readFiles(headers []*multipart.FileHeader) ([]core.SourceFile, error) {
	files := make([]core.SourceFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, core.SourceFile{
			Data:     data,
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
		})
	}
	return files, nil
}

// settingsFromArgs reads batch settings from query arguments.  Unknown or
// malformed values are reported; missing ones keep their defaults.
func settingsFromArgs(args *fasthttp.Args) (core.Settings, error) {
	s := imageoptimizer.DefaultSettings()
	if v := args.Peek("format"); len(v) > 0 {
		s.Format = core.ParseFormat(string(v))
	}
	ints := map[string]*int{
		"quality": &s.Quality,
		"width":   &s.Resize.Width,
		"height":  &s.Resize.Height,
	}
	for key, dst := range ints {
		if !args.Has(key) {
			continue
		}
		n, err := strconv.Atoi(string(args.Peek(key)))
		if err != nil {
			return s, fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	if args.Has("target_kb") {
		f, err := strconv.ParseFloat(string(args.Peek("target_kb")), 64)
		if err != nil {
			return s, fmt.Errorf("target_kb: %w", err)
		}
		s.TargetSizeKB = f
	}
	if string(args.Peek("unit")) == string(core.UnitPercent) {
		s.Resize.Unit = core.UnitPercent
	}
	s.Resize.ResizeEnabled = s.Resize.Width > 0 || s.Resize.Height > 0
	s.Resize.MaintainAspectRatio = string(args.Peek("keep_aspect")) != "false"

	probe := s
	probe.MinQuality, probe.MaxQuality, probe.MaxIterations, probe.Tolerance = 1, 100, 1, 0.5
	return s, core.ValidateSettings(probe)
}

func toResponse(run *core.BatchRun) runResponse {
	resp := runResponse{
		RunID:             run.ID,
		TotalOriginalSize: run.TotalOriginalSize,
		TotalNewSize:      run.TotalNewSize,
		SuccessCount:      run.SuccessCount,
		ErrorCount:        run.ErrorCount,
		Cancelled:         run.Cancelled,
		Results:           make([]itemResponse, 0, len(run.Results)),
	}
	for _, r := range run.Results {
		resp.Results = append(resp.Results, itemResponse{
			OriginalName:   r.OriginalName,
			OriginalSize:   r.OriginalSize,
			NewName:        r.NewName,
			NewSize:        r.NewSize,
			Format:         string(r.Format),
			MIMEType:       r.Format.MIMEType(),
			SavingsPercent: r.SavingsPercent,
			Width:          r.Width,
			Height:         r.Height,
			Quality:        r.Quality,
			Iterations:     r.Iterations,
			Status:         string(r.Status),
			Error:          r.ErrorMessage,
			Data:           r.EncodedBytes,
		})
	}
	return resp
}

func (s *server) writeJSON(ctx *fasthttp.RequestCtx, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func serve(c *cli.Context) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	listen := c.String("listen")
	if listen == "" {
		listen = cfg.Server.Listen
	}

	metrics := hooks.NewPrometheusMetrics("imgopt")
	opt, err := newOptimizer(cfg, logger,
		imageoptimizer.WithMetrics(metrics),
		imageoptimizer.WithHooks(hooks.NewMetricsHook(metrics)),
	)
	if err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("optimizer setup failed")
		return err
	}
	defer opt.Close()

	srv := &fasthttp.Server{
		Name:               "imgopt",
		Handler:            newServer(opt, logger, cfg.JobTimeout, metrics).handle,
		MaxRequestBodySize: cfg.Server.MaxBodyBytes,
		ReadTimeout:        time.Minute,
		WriteTimeout:       time.Minute,
	}

	ctx, cancel := interruptible(logger)
	defer cancel()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(); err != nil {
			logger.Error().Str("errmsg", err.Error()).Msg("server shutdown failed")
		}
	}()

	logger.Info().Str("listen", listen).Str("version", BuildNumber).Msg("http listener started")
	if err := srv.ListenAndServe(listen); err != nil {
		logger.Error().Str("errmsg", err.Error()).Msg("http listener failed")
		return err
	}
	return nil
}
