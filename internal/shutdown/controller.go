package shutdown

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/eternisai/enchanted-chat/internal/logger"
)

const (
	// forceExitDeadline bounds the whole shutdown sequence.
	forceExitDeadline = 5 * time.Second

	// connQuiesceDeadline bounds draining the connection layer.
	connQuiesceDeadline = 2 * time.Second

	// storeCloseDeadline bounds each individual store close.
	storeCloseDeadline = 1 * time.Second
)

// HTTPServer is the listener-closing surface of *http.Server.
type HTTPServer interface {
	Shutdown(ctx context.Context) error
}

// ConnectionLayer drains live client connections.
type ConnectionLayer interface {
	Quiesce(ctx context.Context) error
}

// RateLimiter stops background maintenance.
type RateLimiter interface {
	Destroy()
}

// Store is one backing store with a bounded close.
type Store struct {
	Name  string
	Close func(ctx context.Context) error
}

// Controller runs the ordered shutdown sequence exactly once. The first
// signal wins; later signals are logged and ignored.
type Controller struct {
	server      HTTPServer
	connections ConnectionLayer
	limiter     RateLimiter
	stores      []Store
	logger      *logger.Logger

	once sync.Once
	exit func(code int)
}

// NewController wires the shutdown sequence. Any collaborator may be nil;
// nil steps are skipped.
func NewController(server HTTPServer, connections ConnectionLayer, limiter RateLimiter, stores []Store, log *logger.Logger) *Controller {
	return &Controller{
		server:      server,
		connections: connections,
		limiter:     limiter,
		stores:      stores,
		logger:      log.WithComponent("shutdown"),
		exit:        os.Exit,
	}
}

// Listen blocks consuming signals from sigCh. The first signal starts the
// shutdown; the sequence itself calls exit, so Listen never returns in
// production.
func (c *Controller) Listen(sigCh <-chan os.Signal) {
	first := true
	for sig := range sigCh {
		if first {
			first = false
			c.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
			go c.Trigger()
			continue
		}
		c.logger.Info("shutdown already in progress, ignoring signal",
			slog.String("signal", sig.String()))
	}
}

// Trigger runs the shutdown sequence. Safe to call from multiple goroutines;
// only the first call does anything.
func (c *Controller) Trigger() {
	c.once.Do(c.run)
}

func (c *Controller) run() {
	done := make(chan struct{})
	go func() {
		c.sequence()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("shutdown complete")
		c.exit(0)
	case <-time.After(forceExitDeadline):
		c.logger.Error("shutdown deadline exceeded, forcing exit")
		c.exit(1)
	}
}

// sequence performs the ordered steps: stop accepting, drain connections,
// stop the limiter, close stores.
func (c *Controller) sequence() {
	ctx, cancel := context.WithTimeout(context.Background(), forceExitDeadline)
	defer cancel()

	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			c.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
		} else {
			c.logger.Info("http listener closed")
		}
	}

	if c.connections != nil {
		qctx, qcancel := context.WithTimeout(ctx, connQuiesceDeadline)
		if err := c.connections.Quiesce(qctx); err != nil {
			c.logger.Warn("connection layer did not drain cleanly, proceeding",
				slog.String("error", err.Error()))
		} else {
			c.logger.Info("connection layer drained")
		}
		qcancel()
	}

	if c.limiter != nil {
		c.limiter.Destroy()
		c.logger.Info("rate limiter stopped")
	}

	for _, store := range c.stores {
		sctx, scancel := context.WithTimeout(ctx, storeCloseDeadline)
		if err := store.Close(sctx); err != nil {
			// A hung store is skipped, not waited on.
			c.logger.Warn("store close failed, skipping",
				slog.String("store", store.Name),
				slog.String("error", err.Error()))
		} else {
			c.logger.Info("store closed", slog.String("store", store.Name))
		}
		scancel()
	}
}
