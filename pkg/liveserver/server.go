package liveserver

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	websocketActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "signal_trader_websocket_active_connections",
		Help: "Current number of active event stream connections",
	})

	websocketRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_trader_websocket_rejected_total",
		Help: "Total number of rejected event stream connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(websocketActiveConnections)
	prometheus.MustRegister(websocketRejectedTotal)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options bounds the event stream endpoint
type Options struct {
	AllowedOrigins []string
	// Production rejects the "*" origin
	Production     bool
	MaxConnections int
	RateLimit      float64
	RateBurst      int
}

func DefaultOptions() Options {
	return Options{MaxConnections: 1000, RateLimit: 10, RateBurst: 20}
}

// Handler upgrades /ws requests and attaches them to a Hub.
// Clients may narrow the stream with ?types=signal,position.
type Handler struct {
	hub        *Hub
	logger     Logger
	opts       Options
	upgrader   websocket.Upgrader
	sem        chan struct{}
	ipLimiters sync.Map
}

func NewHandler(hub *Hub, logger Logger, opts Options) *Handler {
	def := DefaultOptions()
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = def.MaxConnections
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}
	h := &Handler{
		hub:    hub,
		logger: logger,
		opts:   opts,
		sem:    make(chan struct{}, opts.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin validates the Origin header against the allow list
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		h.warn("Rejected connection with missing Origin header", "remote_addr", r.RemoteAddr)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		h.warn("Rejected connection with invalid Origin", "origin", origin, "error", err)
		websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
		return false
	}
	originStr := parsed.Scheme + "://" + parsed.Host

	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" {
			if h.opts.Production {
				h.warn("Rejected wildcard origin in production mode", "origin", origin)
				websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	h.warn("Rejected connection from unauthorized origin", "origin", origin, "remote_addr", r.RemoteAddr)
	websocketRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !h.limiter(ip).Allow() {
		h.warn("IP rate limit exceeded", "ip", ip)
		websocketRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case h.sem <- struct{}{}:
		websocketActiveConnections.Inc()
		defer func() {
			<-h.sem
			websocketActiveConnections.Dec()
		}()
	default:
		h.warn("Max connections reached")
		websocketRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var types []string
	if q := r.URL.Query().Get("types"); q != "" {
		types = strings.Split(q, ",")
	}
	client := NewClient(uuid.NewString(), types...)
	h.hub.Register(client)
	client.Send(NewMessage(TypeHello, map[string]interface{}{"client_id": client.id, "types": types}))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		h.readPump(conn)
		// Reader gone: stop the writer
		h.hub.Unregister(client)
	}()
	wg.Wait()
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.GetSendChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.warn("Write error", "client_id", client.id, "error", err)
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// readPump only services pongs; clients do not send data
func (h *Handler) readPump(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.warn("Read error", "error", err)
			}
			return
		}
	}
}

func (h *Handler) limiter(ip string) *rate.Limiter {
	if v, ok := h.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := h.ipLimiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst))
	return actual.(*rate.Limiter)
}

func (h *Handler) warn(msg string, kv ...interface{}) {
	if h.logger != nil {
		h.logger.Warn(msg, kv...)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
