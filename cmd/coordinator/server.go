package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/sortmesh/internal/cluster"
	"github.com/dreamware/sortmesh/internal/coordinator"
	"github.com/dreamware/sortmesh/internal/logger"
	"github.com/dreamware/sortmesh/internal/wire"
)

// server is the HTTP control surface in front of a Coordinator.
type server struct {
	app   *fiber.App
	coord *coordinator.Coordinator
	log   *zap.Logger
}

func newServer(coord *coordinator.Coordinator, reg *prometheus.Registry, log *zap.Logger) *server {
	s := &server{coord: coord, log: logger.OrNop(log)}

	s.app = fiber.New(fiber.Config{
		AppName:               "sortmesh coordinator",
		DisableStartupMessage: true,
		BodyLimit:             wire.DefaultMaxFrameSize,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	s.app.Use(fiberrecover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.accessLog)

	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := s.app.Group("/api/v1")
	api.Get("/workers", s.handleWorkers)
	api.Post("/workers/evict-offline", s.handleEvictOffline)
	api.Post("/sort", s.handleSort)
	api.Post("/probe", s.handleProbe)
	return s
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(cluster.ErrorResponse{Error: err.Error()})
}

func (s *server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("http request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("latency", time.Since(start)),
		zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)))
	return err
}

func (s *server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(cluster.HealthResponse{Status: "ok", Workers: len(s.coord.ListWorkers())})
}

func (s *server) handleWorkers(c *fiber.Ctx) error {
	handles := s.coord.Workers()
	infos := make([]cluster.WorkerInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, newWorkerInfo(h))
	}
	return c.JSON(cluster.WorkersResponse{Workers: infos, Count: len(infos)})
}

// handleSort answers 503 when no worker is connected and 502, with whatever
// the partial policy kept, when a worker failed.
func (s *server) handleSort(c *fiber.Ctx) error {
	var req cluster.SortRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid sort request: %v", err))
	}

	mode := c.Query("mode", cluster.ModeDistributed)
	switch mode {
	case cluster.ModeLocal:
		values, report := s.coord.SortLocal(req.Values)
		return c.JSON(cluster.SortResponse{Mode: mode, Values: values, Report: newJobReport(report)})
	case cluster.ModeDistributed:
	default:
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown sort mode %q", mode))
	}

	values, report, err := s.coord.SortDistributed(c.UserContext(), req.Values)
	if errors.Is(err, coordinator.ErrNoWorkers) {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}

	resp := cluster.SortResponse{Mode: mode, Values: values, Report: newJobReport(report)}
	if resp.Values == nil {
		resp.Values = []int32{}
	}
	if err == nil {
		return c.JSON(resp)
	}

	var jobErr *coordinator.JobError
	if !errors.As(err, &jobErr) {
		return err
	}
	resp.Error = err.Error()
	resp.Failures = newFailures(jobErr)
	return c.Status(fiber.StatusBadGateway).JSON(resp)
}

// handleProbe streams one JSON line per probe result as each completes.
func (s *server) handleProbe(c *fiber.Ctx) error {
	var req cluster.ProbeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid probe request: %v", err))
		}
	}

	// The stream outlives the handler, so it cannot use the request context.
	// Each probe is bounded by the prober timeout.
	results := s.coord.ProbeAll(context.Background(), req.Addrs)

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for res := range results {
			line, err := sonic.Marshal(newProbeResult(res))
			if err != nil {
				s.log.Error("encode probe result", zap.Error(err))
				continue
			}
			_, _ = w.Write(line)
			_ = w.WriteByte('\n')
			if err := w.Flush(); err != nil {
				s.log.Debug("probe stream closed by client", zap.Error(err))
				// Drain so statuses are still recorded.
				for range results {
				}
				return
			}
		}
	})
	return nil
}

func (s *server) handleEvictOffline(c *fiber.Ctx) error {
	evicted := s.coord.EvictOffline()
	if evicted == nil {
		evicted = []string{}
	}
	return c.JSON(cluster.EvictResponse{Evicted: evicted})
}
