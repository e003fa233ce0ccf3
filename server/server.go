// Package server is the websocket transport: it upgrades peers on /ws, feeds
// inbound requests through the protocol dispatcher, and fans session
// notifications out to every connected peer. Each peer owns a reader
// goroutine and a single writer goroutine; all outbound traffic for a
// connection funnels through its queue so frames never interleave.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plugdev/plugdev/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeTimeout  = 10 * time.Second
	outQueueDepth = 64
)

// Server accepts websocket peers and broadcasts notifications to them.
type Server struct {
	dispatcher *protocol.Dispatcher
	log        *zap.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}

	connected prometheus.Gauge
	dropped   prometheus.Counter
}

// peer is one websocket connection. out carries responses and ordinary
// notifications in FIFO order; meter is a single-slot latest-wins lane so a
// slow peer sees stale meters, never a growing backlog.
type peer struct {
	conn   *websocket.Conn
	out    chan []byte
	meter  chan []byte
	done   chan struct{}
	closed sync.Once
}

func New(dispatcher *protocol.Dispatcher, log *zap.Logger, reg prometheus.Registerer) *Server {
	s := &Server{
		dispatcher: dispatcher,
		log:        log,
		peers:      make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// dev tool on loopback; the editor UI connects from a file: or
			// app: origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if reg != nil {
		s.connected = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "plugdev_peers_connected",
			Help: "Currently connected websocket peers.",
		})
		s.dropped = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "plugdev_notifications_dropped_total",
			Help: "Notifications dropped because a peer could not keep up.",
		})
	}
	return s
}

// Handler returns the HTTP mux: /ws, /healthz and /metrics.
func (s *Server) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts the listener down
// and closes every peer.
func (s *Server) Run(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(gatherer),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeAll()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	p := &peer{
		conn:  conn,
		out:   make(chan []byte, outQueueDepth),
		meter: make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	s.add(p)
	s.log.Info("peer connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.writeLoop(p)
	s.readLoop(p)

	s.remove(p)
	p.close()
	s.log.Info("peer disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

// readLoop feeds inbound messages through the dispatcher. Every request gets
// exactly one response; inbound notifications produce none. A transport
// error ends only this peer.
func (s *Server) readLoop(p *peer) {
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				s.log.Debug("peer read failed", zap.Error(err))
			}
			return
		}
		if resp := s.dispatcher.DispatchRaw(raw); resp != nil {
			if !p.enqueue(resp) {
				return
			}
		}
	}
}

func (s *Server) writeLoop(p *peer) {
	defer p.conn.Close()
	for {
		var msg []byte
		select {
		case msg = <-p.out:
		case msg = <-p.meter:
		case <-p.done:
			return
		}
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.log.Debug("peer write failed", zap.Error(err))
			p.close()
			return
		}
	}
}

// Broadcast marshals the notification once and queues it on every peer. The
// peer set is snapshotted under the registry lock, so connects and
// disconnects during the fan-out are safe.
func (s *Server) Broadcast(n protocol.Notification) {
	raw, err := json.Marshal(n)
	if err != nil {
		s.log.Error("notification does not marshal", zap.String("method", n.Method), zap.Error(err))
		return
	}
	latest := n.Method == protocol.NotifyMeterUpdate
	for _, p := range s.snapshot() {
		if latest {
			p.replaceMeter(raw)
			continue
		}
		// never block the broadcaster on one peer; a full queue here means
		// the peer is not draining and gets disconnected instead
		if !p.offer(raw) {
			if s.dropped != nil {
				s.dropped.Inc()
			}
			s.log.Warn("disconnecting peer that cannot keep up")
			p.close()
		}
	}
}

// PeerCount reports the number of connected peers.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) snapshot() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) add(p *peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	if s.connected != nil {
		s.connected.Inc()
	}
}

func (s *Server) remove(p *peer) {
	s.mu.Lock()
	_, present := s.peers[p]
	delete(s.peers, p)
	s.mu.Unlock()
	if present && s.connected != nil {
		s.connected.Dec()
	}
}

func (s *Server) closeAll() {
	for _, p := range s.snapshot() {
		s.remove(p)
		p.close()
	}
}

// offer adds msg to the FIFO lane without ever blocking. Broadcast-path
// only.
func (p *peer) offer(msg []byte) bool {
	select {
	case p.out <- msg:
		return true
	case <-p.done:
		return false
	default:
		return false
	}
}

// enqueue adds msg to the FIFO lane, waiting up to the write timeout for
// room. Responses on the read loop use this; a request whose response cannot
// be queued ends the connection.
func (p *peer) enqueue(msg []byte) bool {
	select {
	case p.out <- msg:
		return true
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- msg:
		return true
	case <-p.done:
		return false
	case <-time.After(writeTimeout):
		p.close()
		return false
	}
}

// replaceMeter overwrites the meter slot so only the newest frame is ever
// waiting.
func (p *peer) replaceMeter(msg []byte) {
	for {
		select {
		case p.meter <- msg:
			return
		default:
		}
		select {
		case <-p.meter:
		default:
		}
	}
}

func (p *peer) close() {
	p.closed.Do(func() {
		close(p.done)
		if p.conn != nil {
			p.conn.Close()
		}
	})
}
