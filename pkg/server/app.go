package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/internal/usecase"
	pkgch "MirrorTrader/pkg/clickhouse"
	"MirrorTrader/pkg/cache"
	"MirrorTrader/pkg/config"
	xhttp "MirrorTrader/pkg/http"
	pkgkafka "MirrorTrader/pkg/kafka"
	applogger "MirrorTrader/pkg/logger"
)

// Deps carries everything the application lifecycle owns or supervises.
type Deps struct {
	Config   *config.Config
	Logger   *applogger.Logger
	Handlers []xhttp.Handler

	Poller   *usecase.Poller
	Analyzer *usecase.Analyzer

	Consumer     *pkgkafka.Consumer
	EventHandler *usecase.TradeEventHandler

	// ChatFactory builds one connection per live stream; nil disables
	// chat ingestion.
	ChatFactory func() repository.ChatStream

	// infra handles, closed on shutdown; any may be nil
	ClickHouse *pkgch.Client
	Producer   *pkgkafka.Producer
	Redis      *cache.RedisCache
	TradeStore repository.TradeStore
}

// App encapsulates the entire application lifecycle.
type App struct {
	deps       Deps
	httpServer *xhttp.Server
	cron       *cron.Cron

	chatMu    sync.Mutex
	chatStops map[string]context.CancelFunc
}

// New creates a new App instance with all dependencies.
func New(deps Deps) *App {
	return &App{
		deps:      deps,
		chatStops: make(map[string]context.CancelFunc),
	}
}

type multiHandler struct {
	app      *App
	handlers []xhttp.Handler
}

func (m *multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m.handlers {
		h.RegisterRoutes(e)
	}
	e.GET("/healthz", m.app.health)
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := a.deps.Config
	l := a.deps.Logger

	a.httpServer = xhttp.NewServer(&multiHandler{app: a, handlers: a.deps.Handlers},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)

	if a.deps.Consumer != nil && a.deps.EventHandler != nil {
		a.deps.Consumer.RegisterHandler(a.deps.EventHandler)
		go func() {
			if err := a.deps.Consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.deps.EventHandler.Topic()))
	}

	if spec := cfg.Scheduler.InternalCron; spec != "" {
		a.cron = cron.New()
		if _, err := a.cron.AddFunc(spec, func() { a.pollOnce(ctx) }); err != nil {
			l.Error("invalid internal cron spec", applogger.String("spec", spec), applogger.Error(err))
			return err
		}
		a.cron.Start()
		l.Info("internal poll trigger enabled", applogger.String("spec", spec))
	}

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}
	l.Info("server started", applogger.Int("port", cfg.Server.Port), applogger.String("environment", cfg.Environment))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// pollOnce runs one internally triggered liveness cycle and reconciles
// chat streams with the channels that came back live.
func (a *App) pollOnce(ctx context.Context) {
	l := a.deps.Logger
	res, err := a.deps.Poller.Run(ctx, nil, false)
	if err != nil {
		l.Warn("internal poll failed", applogger.Error(err))
		return
	}

	live := make(map[string]bool, len(res.Checks))
	for _, check := range res.Checks {
		if check.StreamID != "" {
			live[check.StreamID] = true
		}
	}
	a.reconcileChat(ctx, live)
}

// reconcileChat starts a chat pump per live stream and stops pumps whose
// stream went offline.
func (a *App) reconcileChat(ctx context.Context, live map[string]bool) {
	if a.deps.ChatFactory == nil {
		return
	}
	a.chatMu.Lock()
	defer a.chatMu.Unlock()

	for streamID, stop := range a.chatStops {
		if !live[streamID] {
			stop()
			delete(a.chatStops, streamID)
		}
	}
	for streamID := range live {
		if _, running := a.chatStops[streamID]; running {
			continue
		}
		streamCtx, stop := context.WithCancel(ctx)
		a.chatStops[streamID] = stop
		go a.pumpChat(streamCtx, streamID)
	}
}

func (a *App) pumpChat(ctx context.Context, streamID string) {
	l := a.deps.Logger
	stream := a.deps.ChatFactory()
	if err := stream.Connect(ctx, streamID); err != nil {
		l.Warn("chat connect failed", applogger.String("stream", streamID), applogger.Error(err))
		return
	}
	defer stream.Close()
	l.Info("chat ingestion started", applogger.String("stream", streamID))

	msgs, errs := stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			a.deps.Analyzer.HandleChat(msg)
		case err, ok := <-errs:
			if !ok {
				return
			}
			l.Warn("chat stream error", applogger.String("stream", streamID), applogger.Error(err))
			return
		}
	}
}

func (a *App) health(c echo.Context) error {
	status := map[string]string{"status": "ok"}
	if a.deps.TradeStore != nil {
		if err := a.deps.TradeStore.Health(c.Request().Context()); err != nil {
			status["status"] = "degraded"
			status["trade_store"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, status)
		}
	}
	return c.JSON(http.StatusOK, status)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	cfg := a.deps.Config
	l := a.deps.Logger

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	a.chatMu.Lock()
	for streamID, stop := range a.chatStops {
		stop()
		delete(a.chatStops, streamID)
	}
	a.chatMu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	if a.deps.Consumer != nil {
		if err := a.deps.Consumer.Stop(shutdownCtx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.deps.Producer != nil {
		if err := a.deps.Producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	if a.deps.ClickHouse != nil {
		if err := a.deps.ClickHouse.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}
	if a.deps.Redis != nil {
		if err := a.deps.Redis.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
