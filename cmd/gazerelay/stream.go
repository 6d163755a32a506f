package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

// ============================================================================
// Sample Stream: websocket hub + per-client pumps + observer
// ============================================================================
//
// The stream publisher is just one observer of the session. It never blocks
// the poll worker: each sample is serialized once and handed to the hub's
// buffered frame queue; a full queue drops the sample.
//
// Wire format: JSON text frames with an envelope {type, ts, data}.
//   - "stream_info"  on connect: name, content type, channel count, source id
//   - "state_init"   on connect: current Sample (may be stale / not present)
//   - "gaze_sample"  for every valid sample: {x, y}
//
// Slow clients are disconnected when their send buffer fills.
// ============================================================================

// wsStreamInfo is the `data` payload of "stream_info".
type wsStreamInfo struct {
	Name         string `json:"name"`
	ContentType  string `json:"content_type"`
	ChannelCount int    `json:"channel_count"`
	SourceID     string `json:"source_id"`
	DeviceID     string `json:"device_id,omitempty"`
}

// wsGazeSample is the `data` payload of "gaze_sample".
type wsGazeSample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// envelope wraps every stream frame as {type, ts, data}.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

func marshalEnvelope(typ string, data any, at time.Time) ([]byte, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Hub
// ============================================================================

// minSendBuf is the smallest per-client queue: stream_info and state_init are
// queued before the client joins and must both fit.
const minSendBuf = 2

// Hub fans serialized frames out to every joined client. One goroutine (Run)
// owns membership changes; BroadcastBytes never blocks the caller.
type Hub struct {
	logger *slog.Logger

	frames chan []byte
	joins  chan *Client
	leaves chan *Client

	// done is closed when Run returns. join/leave give up after that.
	done chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client queue length (default defaultStreamSendBuf,
	// never below minSendBuf).
	SendBuf int

	// BroadcastBuf is the hub frame queue length (default defaultStreamBroadcastBuf).
	BroadcastBuf int
}

// NewHub builds a hub; nothing is delivered until Run is started.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = defaultStreamSendBuf
	}
	if sendBuf < minSendBuf {
		sendBuf = minSendBuf
	}
	frameBuf := cfg.BroadcastBuf
	if frameBuf <= 0 {
		frameBuf = defaultStreamBroadcastBuf
	}

	return &Hub{
		logger:  logger,
		frames:  make(chan []byte, frameBuf),
		joins:   make(chan *Client, 64),
		leaves:  make(chan *Client, 64),
		done:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
		sendBuf: sendBuf,
	}
}

// Run owns the client set until ctx ends, then disconnects everyone.
// Call it once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.Debug("stream hub running")

	for {
		select {
		case <-ctx.Done():
			n := h.dropAll()
			h.logger.Debug("stream hub stopped", "disconnected", n)
			return

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("stream client joined", "client_id", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.leaves:
			h.drop(c, "left")

		case frame := <-h.frames:
			h.fanOut(frame)
		}
	}
}

// fanOut queues frame on every client. A client whose queue is full is
// lagging behind the tracker and gets disconnected.
func (h *Hub) fanOut(frame []byte) {
	var lagging []*Client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			lagging = append(lagging, c)
		}
	}
	h.mu.Unlock()

	for _, c := range lagging {
		h.drop(c, "send queue full")
	}
}

// join hands c to Run. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.joins <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave asks Run to drop c. After shutdown it is a no-op.
func (h *Hub) leave(c *Client) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.leaves <- c:
	case <-h.done:
	}
}

// Clients returns the number of joined clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, member := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !member {
		return
	}
	c.shut()
	h.logger.Info("stream client dropped", "client_id", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func (h *Hub) dropAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		c.shut()
		delete(h.clients, c)
	}
	return n
}

// BroadcastBytes queues one serialized frame for every client. It drops the
// frame and reports false when the hub queue is full.
func (h *Hub) BroadcastBytes(frame []byte) bool {
	select {
	case h.frames <- frame:
		return true
	default:
		return false
	}
}

// ============================================================================
// Client
// ============================================================================

// Client is one websocket subscriber. writePump is the only writer on conn.
type Client struct {
	id  string
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger

	shutOnce sync.Once
}

// NewClient allocates a client with the hub's queue length and a fresh id.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	queue := defaultStreamSendBuf
	if hub != nil {
		queue = hub.sendBuf
	}
	return &Client{
		id:         uuid.NewString(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, queue),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// shut closes the socket and the send queue; writePump then exits.
// Safe to call more than once.
func (c *Client) shut() {
	c.shutOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// writePump drains the send queue onto the socket and pings the peer.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logDone("write", err)
				return
			}

		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logDone("ping", err)
				return
			}
		}
	}
}

// readPump only exists to process pongs and notice the peer going away.
// Stream clients have nothing to say; their messages are discarded.
func (c *Client) readPump() {
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	_ = extend("")
	c.conn.SetPongHandler(extend)

	var err error
	for err == nil {
		_, _, err = c.conn.ReadMessage()
	}
	c.logDone("read", err)
	if c.hub != nil {
		c.hub.leave(c)
	}
}

func (c *Client) logDone(op string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("stream client closed", "client_id", c.id, "op", op, "code", ce.Code, "text", ce.Text)
		return
	}
	c.logger.Debug("stream client connection ended", "client_id", c.id, "op", op, "error", err)
}

// ============================================================================
// Stream server: HTTP handlers + observer
// ============================================================================

// SampleSource is the read side the stream server needs from a session.
type SampleSource interface {
	Sample() *SampleState
	DeviceID() string
}

type StreamServer struct {
	logger *slog.Logger
	hub    *Hub
	source SampleSource
	info   wsStreamInfo

	dropped atomic.Uint64
}

// NewStreamServer constructs the stream components. Register the handlers on a
// mux, start Hub().Run(ctx), and add Observer() to the session.
func NewStreamServer(logger *slog.Logger, source SampleSource, cfg StreamConfig) *StreamServer {
	return &StreamServer{
		logger: logger,
		hub:    NewHub(logger, HubConfig{SendBuf: cfg.SendBuf, BroadcastBuf: cfg.BroadcastBuf}),
		source: source,
		info: wsStreamInfo{
			Name:         cfg.Name,
			ContentType:  cfg.ContentType,
			ChannelCount: streamChannelCount,
			SourceID:     uuid.NewString(),
		},
	}
}

func (s *StreamServer) Hub() *Hub { return s.hub }

// Register registers the websocket and snapshot handlers on mux.
func (s *StreamServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStreamWS)
	mux.HandleFunc("/sample", s.handleSample)
}

// Observer returns the session observer that publishes samples to all clients.
func (s *StreamServer) Observer() Observer {
	return func(x, y float64) {
		msg, err := marshalEnvelope("gaze_sample", wsGazeSample{X: x, Y: y}, time.Time{})
		if err != nil {
			s.logger.Warn("stream marshal failed", "error", err)
			return
		}
		if !s.hub.BroadcastBytes(msg) {
			n := s.dropped.Inc()
			// Log sparingly; this fires once per sample while saturated.
			if n == 1 || n%1000 == 0 {
				s.logger.Warn("stream broadcast queue full, dropping samples", "dropped", n)
			}
		}
	}
}

// Dropped returns how many samples were dropped because the hub queue was full.
func (s *StreamServer) Dropped() uint64 {
	return s.dropped.Load()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStreamWS upgrades the request, queues stream_info and state_init, and
// only then joins the hub, so live samples always follow the init frames.
func (s *StreamServer) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("stream upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Pumps outlive the request; the socket and the hub end them.
	go client.writePump()

	info := s.info
	info.DeviceID = s.source.DeviceID()
	for _, m := range []struct {
		typ  string
		data any
	}{
		{"stream_info", info},
		{"state_init", s.source.Sample().Snapshot()},
	} {
		frame, err := marshalEnvelope(m.typ, m.data, time.Time{})
		if err != nil {
			s.logger.Warn("stream marshal failed", "error", err, "type", m.typ)
			continue
		}
		client.send <- frame // the queue holds at least minSendBuf frames
	}

	if !s.hub.join(client) {
		client.shut()
		return
	}
	go client.readPump()
}

// handleSample serves the current sample as JSON.
func (s *StreamServer) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Sample().Snapshot()); err != nil {
		s.logger.Debug("sample response write failed", "error", err)
	}
}

// runHTTPServer serves handler on port and shuts down gracefully when ctx is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("stream server listening", "port", port)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
