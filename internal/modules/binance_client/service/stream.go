package service

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"webhook_trader/internal/errs"
	"webhook_trader/internal/exchange"
)

const (
	DefaultStreamURL = "wss://fstream.binance.com/ws/"

	listenKeyKeepalive = 30 * time.Minute
	reconnectDelay     = time.Second
	// сервер шлёт ping раз в 3 минуты
	readTimeout = 10 * time.Minute
)

type ListenKeys interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, key string) error
	CloseUserStream(ctx context.Context, key string) error
}

// Connectivity флаг подключения для проб.
type Connectivity interface {
	SetWSConnected(v bool)
}

// Stream user-data стрим плюс подписки на markPrice в одном соединении.
type Stream struct {
	keys     ListenKeys
	health   Connectivity
	log      *zap.Logger
	dialer   *websocket.Dialer
	baseURL  string
	retryGap time.Duration

	mu        sync.Mutex
	handler   exchange.EventHandler
	symbols   map[string]struct{}
	conn      *websocket.Conn
	listenKey string
	nextID    int64

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ exchange.EventSource = (*Stream)(nil)

func NewStream(keys ListenKeys, health Connectivity, baseURL string, log *zap.Logger) *Stream {
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}
	return &Stream{
		keys:     keys,
		health:   health,
		log:      log.Named("stream"),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		baseURL:  baseURL,
		retryGap: reconnectDelay,
		symbols:  make(map[string]struct{}),
	}
}

func (s *Stream) SetHandler(h exchange.EventHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SubscribeMarkPrice подписка переживает реконнект: при подключении шлём весь набор заново.
func (s *Stream) SubscribeMarkPrice(symbol string) error {
	s.mu.Lock()
	if _, ok := s.symbols[symbol]; ok {
		s.mu.Unlock()
		return nil
	}
	s.symbols[symbol] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := s.subscribe(conn, markPriceStream(symbol)); err != nil {
		return errs.Transport(symbol, err)
	}
	return nil
}

// Start получает listenKey и поднимает чтение в фоне.
func (s *Stream) Start(ctx context.Context) error {
	key, err := s.keys.StartUserStream(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.listenKey = key
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.keepaliveLoop(runCtx)
	go s.run(runCtx)
	return nil
}

func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done, conn, key := s.cancel, s.done, s.conn, s.listenKey
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if key != "" {
		if err := s.keys.CloseUserStream(ctx, key); err != nil {
			s.log.Warn("close listen key", zap.Error(err))
		}
	}
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.session(ctx)
		s.health.SetWSConnected(false)
		if ctx.Err() != nil {
			return
		}

		if errors.Is(err, ErrListenKeyExpired) {
			s.log.Warn("listen key expired, requesting new one")
			if err := s.renewListenKey(ctx); err != nil {
				s.log.Error("renew listen key", zap.Error(err))
			}
		} else if err != nil {
			s.log.Warn("stream disconnected", zap.Error(err))
		}

		t := time.NewTimer(s.retryGap)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session одно подключение: dial, подписки, read-loop до первой ошибки.
func (s *Stream) session(ctx context.Context) error {
	s.mu.Lock()
	url := s.baseURL + s.listenKey
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	// Stop мог прочитать s.conn раньше, чем мы его записали
	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-closed:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	s.mu.Lock()
	s.conn = conn
	streams := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		streams = append(streams, markPriceStream(sym))
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
	}()

	if len(streams) > 0 {
		if err := s.subscribe(conn, streams...); err != nil {
			return errors.Wrap(err, "resubscribe")
		}
	}

	s.health.SetWSConnected(true)
	s.log.Info("stream connected", zap.Int("markPriceStreams", len(streams)))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()

		if err := Dispatch(msg, h); err != nil {
			if errors.Is(err, ErrListenKeyExpired) {
				return err
			}
			s.log.Warn("skip stream message", zap.Error(err), zap.ByteString("msg", msg))
		}
	}
}

func (s *Stream) subscribe(conn *websocket.Conn, streams ...string) error {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	payload, err := sonic.Marshal(subscribeMessage(id, streams...))
	if err != nil {
		return errors.Wrap(err, "marshal subscribe")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Stream) keepaliveLoop(ctx context.Context) {
	t := time.NewTicker(listenKeyKeepalive)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			key := s.listenKey
			s.mu.Unlock()

			if err := s.keys.KeepaliveUserStream(ctx, key); err != nil {
				s.log.Warn("listen key keepalive failed", zap.Error(err))
				if err := s.renewListenKey(ctx); err != nil {
					s.log.Error("renew listen key", zap.Error(err))
					continue
				}
				// новое соединение поднимет run
				s.dropConn()
			}
		}
	}
}

func (s *Stream) renewListenKey(ctx context.Context) error {
	key, err := s.keys.StartUserStream(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listenKey = key
	s.mu.Unlock()
	return nil
}

func (s *Stream) dropConn() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
