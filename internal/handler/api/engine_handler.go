package api

import (
	"context"
	"net/http"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	"SignalFlow/internal/usecase"
	"SignalFlow/pkg/config"
	xhttp "SignalFlow/pkg/http"
	xlogger "SignalFlow/pkg/logger"
	"SignalFlow/pkg/util"

	"github.com/labstack/echo/v4"
)

// EngineControl is the part of the engine the API drives.
type EngineControl interface {
	Statuses(ctx context.Context) []usecase.WorkerStatus
	Status(ctx context.Context, symbol string) (usecase.WorkerStatus, error)
	ActiveSignals(ctx context.Context) []*models.Signal
	Pause(symbol string) error
	Resume(symbol string) error
	Reload(ctx context.Context) (*config.Snapshot, error)
	Snapshot() *config.Snapshot
}

type StatsReader interface {
	Report(ctx context.Context, symbol string) (*models.StatsReport, error)
	Period(ctx context.Context, symbol, period string) (models.PeriodStats, error)
}

// HealthCheck is probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type EngineHandler struct {
	logger *xlogger.Logger
	engine EngineControl
	stats  StatsReader
	ledger domrepo.OutcomeLedger
	checks []HealthCheck
}

func NewEngineHandler(logger *xlogger.Logger, engine EngineControl, stats StatsReader, ledger domrepo.OutcomeLedger, checks ...HealthCheck) *EngineHandler {
	return &EngineHandler{logger: logger, engine: engine, stats: stats, ledger: ledger, checks: checks}
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api/v1")
	g.GET("/signals/active", h.ActiveSignals)
	g.GET("/symbols", h.Symbols)
	g.GET("/symbols/:symbol", h.Symbol)
	g.POST("/symbols/:symbol/pause", h.Pause)
	g.POST("/symbols/:symbol/resume", h.Resume)
	g.GET("/outcomes", h.Outcomes)
	g.GET("/stats", h.Stats)
	g.GET("/config", h.Config)
	g.POST("/config/reload", h.Reload)
}

type symbolParam struct {
	Symbol string `param:"symbol" validate:"required"`
}

type outcomesRequest struct {
	Symbol string `query:"symbol"`
	Limit  int    `query:"limit" default:"100" validate:"min=1,max=1000"`
}

type statsRequest struct {
	Symbol string `query:"symbol"`
	Period string `query:"period"`
}

func (h *EngineHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			failed[chk.Name] = err.Error()
		}
	}
	body := map[string]interface{}{
		"status":         "ok",
		"config_version": h.engine.Snapshot().Version,
	}
	if len(failed) > 0 {
		body["status"] = "degraded"
		body["failed"] = failed
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}

func (h *EngineHandler) ActiveSignals(c echo.Context) error {
	sigs := h.engine.ActiveSignals(c.Request().Context())
	return xhttp.ListResponse(c, sigs, int64(len(sigs)))
}

func (h *EngineHandler) Symbols(c echo.Context) error {
	sts := h.engine.Statuses(c.Request().Context())
	return xhttp.ListResponse(c, sts, int64(len(sts)))
}

func (h *EngineHandler) Symbol(c echo.Context) error {
	req := &symbolParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.engine.Status(c.Request().Context(), util.NormalizeSymbol(req.Symbol))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *EngineHandler) Pause(c echo.Context) error {
	req := &symbolParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.Pause(util.NormalizeSymbol(req.Symbol)); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"symbol": util.NormalizeSymbol(req.Symbol), "state": "paused"})
}

func (h *EngineHandler) Resume(c echo.Context) error {
	req := &symbolParam{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.Resume(util.NormalizeSymbol(req.Symbol)); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%v", err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"symbol": util.NormalizeSymbol(req.Symbol), "state": "running"})
}

func (h *EngineHandler) Outcomes(c echo.Context) error {
	req := &outcomesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.ledger.Recent(c.Request().Context(), util.NormalizeSymbol(req.Symbol), req.Limit)
	if err != nil {
		h.logger.Error("ledger recent failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("ledger unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

// Stats returns the full report, or one period when period is set.
func (h *EngineHandler) Stats(c echo.Context) error {
	req := &statsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	symbol := util.NormalizeSymbol(req.Symbol)
	if req.Period != "" {
		if _, err := util.ParsePeriod(req.Period); err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("%v", err))
		}
		st, err := h.stats.Period(ctx, symbol, req.Period)
		if err != nil {
			h.logger.Error("stats period failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("ledger unavailable").WithError(err))
		}
		return xhttp.SuccessResponse(c, st)
	}
	rep, err := h.stats.Report(ctx, symbol)
	if err != nil {
		h.logger.Error("stats report failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("ledger unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, rep)
}

type configView struct {
	Version  int64             `json:"version"`
	LoadedAt time.Time         `json:"loaded_at"`
	Symbols  []string          `json:"symbols"`
	Invalid  map[string]string `json:"invalid,omitempty"`
}

func viewOf(s *config.Snapshot) configView {
	v := configView{Version: s.Version, LoadedAt: s.LoadedAt, Symbols: s.Symbols()}
	for sym, err := range s.Invalid() {
		if v.Invalid == nil {
			v.Invalid = map[string]string{}
		}
		v.Invalid[sym] = err.Error()
	}
	return v
}

func (h *EngineHandler) Config(c echo.Context) error {
	return xhttp.SuccessResponse(c, viewOf(h.engine.Snapshot()))
}

func (h *EngineHandler) Reload(c echo.Context) error {
	snap, err := h.engine.Reload(c.Request().Context())
	if err != nil {
		h.logger.Warn("config reload rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("reload rejected: %v", err))
	}
	return xhttp.SuccessResponse(c, viewOf(snap))
}

var _ xhttp.Handler = (*EngineHandler)(nil)
