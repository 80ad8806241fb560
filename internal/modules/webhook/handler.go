package webhook

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"webhook_trader/internal/metrics"
	"webhook_trader/internal/models"
)

const maxBodySize = 1 << 10

// Emitter шина сигналов.
type Emitter interface {
	Emit(sig models.Signal)
	Handles(name models.SignalName) bool
}

type Handler struct {
	password string
	bus      Emitter
	log      *zap.Logger
}

func NewHandler(password string, bus Emitter, log *zap.Logger) *Handler {
	return &Handler{password: password, bus: bus, log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countStatus)
	r.Post("/webhook/{password}", h.Webhook)
	return r
}

// Webhook 204 если сигнал принят в шину, 500 на любой отказ.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	pass := chi.URLParam(r, "password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) != 1 {
		h.log.Warn("webhook: wrong password", zap.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.log.Warn("webhook: read body", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sig, err := ParseBody(string(body))
	if err != nil {
		h.log.Warn("webhook: bad body", zap.ByteString("body", body), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log := h.log.With(
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.String("signal", string(sig.Name)),
	)
	if !h.bus.Handles(sig.Name) {
		// ONLY_PNL: торговые обработчики не зарегистрированы
		log.Info("webhook: signal has no handlers, ignored")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.bus.Emit(sig)
	log.Info("webhook: signal accepted", zap.Float64("tickPrice", sig.TickPrice))
	w.WriteHeader(http.StatusNoContent)
}

func countStatus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.WebhookRequestsTotal.WithLabelValues(strconv.Itoa(ww.Status())).Inc()
	})
}
