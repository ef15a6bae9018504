package main

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/randomfile/pkg/core"
	rfprom "github.com/fluxorio/randomfile/pkg/observability/prometheus"
	"github.com/fluxorio/randomfile/pkg/randomfile"
)

const requestIDHeader = "X-Request-ID"

type server struct {
	file        *randomfile.File
	policy      randomfile.Policy
	noCopy      bool
	waitTimeout time.Duration

	// nil when metrics are disabled
	metrics        *rfprom.Metrics
	gatherer       prometheus.Gatherer
	metricsHandler fasthttp.RequestHandler

	logger core.Logger
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type appendResponse struct {
	Bytes        int   `json:"bytes"`
	BytesWritten int64 `json:"bytes_written"`
}

func (s *server) handler() fasthttp.RequestHandler {
	h := s.route
	if s.metrics != nil {
		s.metricsHandler = rfprom.MetricsHandler(s.gatherer)
		h = rfprom.FastHTTPMetricsMiddleware(s.metrics, h)
	}
	return withRequestID(h)
}

func (s *server) route(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	switch path := string(ctx.Path()); {
	case path == "/get" && method == fasthttp.MethodGet:
		s.handleGet(ctx)
	case path == "/append" && method == fasthttp.MethodPost:
		s.handleAppend(ctx)
	case path == "/append/direct" && method == fasthttp.MethodPost:
		s.handleAppendDirect(ctx)
	case path == "/sync" && method == fasthttp.MethodPost:
		s.handleSync(ctx)
	case path == "/stats" && method == fasthttp.MethodGet:
		s.handleStats(ctx)
	case path == "/metrics" && method == fasthttp.MethodGet && s.metricsHandler != nil:
		s.metrics.UpdateStats(s.file.Stats())
		s.metricsHandler(ctx)
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, errors.New("not found"))
	}
}

// withRequestID echoes the caller's X-Request-ID or assigns a new one.
func withRequestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek(requestIDHeader))
		if id == "" {
			id = core.NewID()
		}
		ctx.SetUserValue(requestIDHeader, id)
		ctx.Response.Header.Set(requestIDHeader, id)
		next(ctx)
	}
}

func requestContext(ctx *fasthttp.RequestCtx) context.Context {
	id, _ := ctx.UserValue(requestIDHeader).(string)
	return core.WithRequestID(ctx, id)
}

// GET /get?offset=N&size=N[&policy=throw|grow|wait][&timeout=5s]
func (s *server) handleGet(ctx *fasthttp.RequestCtx) {
	args := ctx.QueryArgs()
	offset, err := strconv.ParseInt(string(args.Peek("offset")), 10, 64)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, errors.New("offset must be an integer"))
		return
	}
	size, err := strconv.ParseInt(string(args.Peek("size")), 10, 64)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, errors.New("size must be an integer"))
		return
	}
	policy := s.policy
	if p := args.Peek("policy"); len(p) > 0 {
		if policy, err = randomfile.ParsePolicy(string(p)); err != nil {
			s.writeError(ctx, fasthttp.StatusBadRequest, err)
			return
		}
	}
	timeout := s.waitTimeout
	if t := args.Peek("timeout"); len(t) > 0 {
		if timeout, err = time.ParseDuration(string(t)); err != nil {
			s.writeError(ctx, fasthttp.StatusBadRequest, errors.New("timeout must be a duration"))
			return
		}
	}

	rctx, cancel := context.WithTimeout(requestContext(ctx), timeout)
	defer cancel()
	v, err := s.file.Get(rctx, offset, size, policy)
	if err != nil {
		s.writeError(ctx, statusFor(err), err)
		return
	}
	defer func() { _ = v.Release() }()

	ctx.SetContentType("application/octet-stream")
	ctx.Response.Header.Set("X-Mapping-Generation", strconv.FormatUint(v.Generation(), 10))
	// SetBody copies, so the view can be released right after.
	ctx.SetBody(v.Bytes())
}

// POST /append: the body is queued.
func (s *server) handleAppend(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	if s.noCopy {
		// fasthttp reuses the body buffer once the handler returns.
		body = append([]byte(nil), body...)
	}
	if err := s.file.Append(body); err != nil {
		s.writeError(ctx, statusFor(err), err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusAccepted, appendResponse{Bytes: len(body), BytesWritten: s.file.BytesWritten()})
}

// POST /append/direct: the body is written before the response.
func (s *server) handleAppendDirect(ctx *fasthttp.RequestCtx) {
	body := ctx.PostBody()
	err := s.file.AppendDirect(requestContext(ctx), func(w io.Writer) error {
		_, err := w.Write(body)
		return err
	})
	if err != nil {
		s.writeError(ctx, statusFor(err), err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, appendResponse{Bytes: len(body), BytesWritten: s.file.BytesWritten()})
}

// POST /sync waits for queued appends and fsyncs.
func (s *server) handleSync(ctx *fasthttp.RequestCtx) {
	rctx, cancel := context.WithTimeout(requestContext(ctx), s.waitTimeout)
	defer cancel()
	if err := s.file.Sync(rctx); err != nil {
		s.writeError(ctx, statusFor(err), err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, s.file.Stats())
}

func (s *server) handleStats(ctx *fasthttp.RequestCtx) {
	st := s.file.Stats()
	if s.metrics != nil {
		s.metrics.UpdateStats(st)
	}
	s.writeJSON(ctx, fasthttp.StatusOK, st)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, randomfile.ErrInvalidArgument):
		return fasthttp.StatusBadRequest
	case errors.Is(err, randomfile.ErrOutOfRange):
		return fasthttp.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, randomfile.ErrBackpressure):
		return fasthttp.StatusTooManyRequests
	case errors.Is(err, randomfile.ErrClosed):
		return fasthttp.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusInternalServerError
	}
}

func (s *server) writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	data, err := core.JSONEncode(v)
	if err != nil {
		s.logger.Errorf("encode response: %v", err)
		ctx.Error("internal error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func (s *server) writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	id, _ := ctx.UserValue(requestIDHeader).(string)
	if status >= fasthttp.StatusInternalServerError {
		s.logger.Errorf("[%s] %s %s: %v", id, ctx.Method(), ctx.Path(), err)
	} else {
		s.logger.Debugf("[%s] %s %s: %v", id, ctx.Method(), ctx.Path(), err)
	}
	s.writeJSON(ctx, status, errorResponse{Error: err.Error(), RequestID: id})
}
