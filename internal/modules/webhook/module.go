package webhook

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"webhook_trader/internal/modules/config"
	"webhook_trader/internal/runner"
)

func newHandler(cfg *config.Config, bus runner.Emitter, log *zap.Logger) *Handler {
	return NewHandler(cfg.WebhookPassword, bus, log.Named("webhook"))
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, h *Handler, log *zap.Logger) {
	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info("webhook server listening", zap.String("addr", addr))
			go func() { _ = srv.Serve(ln) }()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// Module POST /webhook/{password} на PORT.
func Module() fx.Option {
	return fx.Module("webhook",
		fx.Provide(newHandler),
		fx.Invoke(RunHTTP),
	)
}
