// Package hub is the real-time notification channel: clients query their gardens' weather over
// a WebSocket and receive weatherUpdate pushes whenever propagation writes a reading.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/garden-weather-service/internal/auth"
	"github.com/kjstillabower/garden-weather-service/internal/geo"
	"github.com/kjstillabower/garden-weather-service/internal/lifecycle"
	"github.com/kjstillabower/garden-weather-service/internal/models"
	"github.com/kjstillabower/garden-weather-service/internal/observability"
	"github.com/kjstillabower/garden-weather-service/internal/traffic"
	"github.com/kjstillabower/garden-weather-service/internal/validation"
)

// GardenLister returns the gardens owned by a user.
type GardenLister interface {
	FindByOwner(ctx context.Context, ownerID string) ([]models.Garden, error)
}

// Propagator refreshes one garden and its neighbors.
type Propagator interface {
	Propagate(ctx context.Context, originID string) ([]models.GardenWeather, error)
}

// Config holds hub options.
type Config struct {
	// NearbyMaxDistanceMeters bounds getNearbyGardens results; 0 means unbounded.
	NearbyMaxDistanceMeters float64
	// AllowedOrigins restricts the Origin header on upgrade; empty allows any origin.
	AllowedOrigins []string
	// FanOut caps concurrent garden refreshes within one getMyGardensWeather request.
	FanOut int
}

// Hub owns the connection set.
type Hub struct {
	gardens    GardenLister
	propagator Propagator
	verifier   auth.Verifier
	cfg        Config
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	conns      *registry
	now        func() time.Time

	// mu orders ServeHTTP's wg.Add against Shutdown; closed is set once Shutdown begins.
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New returns a Hub.
func New(gardens GardenLister, propagator Propagator, verifier auth.Verifier, cfg Config, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		gardens:    gardens,
		propagator: propagator,
		verifier:   verifier,
		cfg:        cfg,
		logger:     logger,
		conns:      newRegistry(),
		now:        time.Now,
		baseCtx:    ctx,
		cancel:     cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// ConnectionCount reports open connections.
func (h *Hub) ConnectionCount() int {
	return h.conns.len()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() || h.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		observability.LoggerFromContext(r.Context(), h.logger).Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.New().String()
	c := newConn(id, ws, h.logger.With(zap.String("connection_id", id)))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		// Shutdown started while upgrading and will not see this connection.
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = ws.Close()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		h.serveConn(c)
	}()
}

func (h *Hub) serveConn(c *conn) {
	ctx, cancel := context.WithCancel(h.baseCtx)
	defer cancel()

	h.conns.add(c)
	observability.HubConnections.Inc()
	c.logger.Info("client connected", zap.Int("connections", h.conns.len()))

	writerDone := make(chan struct{})
	go func() {
		c.writePump()
		close(writerDone)
	}()

	defer func() {
		h.conns.remove(c.id)
		observability.HubConnections.Dec()
		c.close()
		<-writerDone
		_ = c.ws.Close()
		c.logger.Info("client disconnected", zap.Int("connections", h.conns.len()))
	}()

	if ctx.Err() != nil {
		// Shutdown may have taken its snapshot before add.
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}

	c.ws.SetReadLimit(MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if isOversized(err) {
				// The library has already sent close 1009.
				observability.HubOversizedMessagesTotal.Inc()
				c.logger.Warn("message too big, closing connection", zap.Int("limit_bytes", MaxMessageBytes))
				c.close()
				c.drain()
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, c, data)
	}
}

// handleMessage processes one client message. Nothing here closes the connection; every
// failure becomes an {"error": ...} reply.
func (h *Hub) handleMessage(ctx context.Context, c *conn, data []byte) {
	reqType := "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("panic handling message", zap.Any("panic", rec), zap.String("type", reqType))
			observability.HubMessagesTotal.WithLabelValues(reqType, "error").Inc()
			c.reply(ctx, encode(errorMessage{Error: msgInternal}))
		}
	}()

	if !c.limiter.allow(h.now()) {
		traffic.RecordDenied()
		observability.HubMessagesTotal.WithLabelValues(reqType, "rate_limited").Inc()
		c.logger.Debug("request rate limited")
		c.reply(ctx, encode(errorMessage{Error: msgRateLimited}))
		return
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		observability.HubMessagesTotal.WithLabelValues(reqType, "invalid").Inc()
		c.reply(ctx, encode(errorMessage{Error: msgInvalidFormat}))
		return
	}

	switch req.Type {
	case TypeGetMyGardensWeather:
		reqType = req.Type
		h.getMyGardensWeather(ctx, c, req)
	case TypeGetNearbyGardens:
		reqType = req.Type
		h.getNearbyGardens(ctx, c, req)
	default:
		observability.HubMessagesTotal.WithLabelValues(reqType, "invalid").Inc()
		c.reply(ctx, encode(errorMessage{Error: msgUnknownType}))
	}
}

func (h *Hub) authenticate(ctx context.Context, c *conn, req request) (auth.Identity, bool) {
	id, err := h.verifier.VerifyToken(req.Token)
	if err != nil {
		msg := auth.ErrUnauthorized.Error()
		if errors.Is(err, auth.ErrMissingToken) {
			msg = auth.ErrMissingToken.Error()
		}
		observability.HubMessagesTotal.WithLabelValues(req.Type, "unauthorized").Inc()
		c.reply(ctx, encode(errorMessage{Error: msg}))
		return auth.Identity{}, false
	}
	return id, true
}

// getMyGardensWeather refreshes every garden the caller owns, concurrently, and replies with
// one message per garden in ownership order. Every garden written along the way is broadcast.
func (h *Hub) getMyGardensWeather(ctx context.Context, c *conn, req request) {
	id, ok := h.authenticate(ctx, c, req)
	if !ok {
		return
	}
	gardens, err := h.gardens.FindByOwner(ctx, id.UserID)
	if err != nil {
		c.logger.Error("list gardens failed", zap.String("user_id", id.UserID), zap.Error(err))
		observability.HubMessagesTotal.WithLabelValues(req.Type, "error").Inc()
		c.reply(ctx, encode(errorMessage{Error: msgInternal}))
		return
	}

	replies := make([]gardenWeatherMessage, len(gardens))
	var g errgroup.Group
	g.SetLimit(h.cfg.FanOut)
	for i, garden := range gardens {
		i, garden := i, garden
		g.Go(func() error {
			replies[i] = h.refreshGarden(ctx, c, garden.ID)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range replies {
		c.reply(ctx, encode(r))
	}
	observability.HubMessagesTotal.WithLabelValues(req.Type, "ok").Inc()
}

func (h *Hub) refreshGarden(ctx context.Context, c *conn, gardenID string) gardenWeatherMessage {
	updates, err := h.propagator.Propagate(ctx, gardenID)
	for _, u := range updates {
		h.NotifyWeatherChanged(u.GardenID, u.Reading)
	}
	if len(updates) == 0 || updates[0].GardenID != gardenID {
		msg := msgWeatherUnavailable
		if validation.IsValidationError(err) {
			msg = err.Error()
		}
		c.logger.Warn("garden weather failed", zap.String("garden_id", gardenID), zap.Error(err))
		return gardenWeatherMessage{GardenID: gardenID, Error: msg}
	}
	if err != nil {
		// The origin was written; only neighbor writes failed.
		c.logger.Warn("neighbor propagation incomplete", zap.String("garden_id", gardenID), zap.Error(err))
	}
	reading := updates[0].Reading
	return gardenWeatherMessage{GardenID: gardenID, Weather: &reading}
}

type nearbyGarden struct {
	models.Garden
	distance float64
}

// getNearbyGardens returns the caller's own gardens ordered by distance from the requested
// point, optionally bounded by NearbyMaxDistanceMeters.
func (h *Hub) getNearbyGardens(ctx context.Context, c *conn, req request) {
	id, ok := h.authenticate(ctx, c, req)
	if !ok {
		return
	}
	point, err := validation.CoordinateFromFields(req.Latitude, req.Longitude)
	if err != nil {
		observability.HubMessagesTotal.WithLabelValues(req.Type, "invalid").Inc()
		c.reply(ctx, encode(errorMessage{Error: err.Error()}))
		return
	}
	gardens, err := h.gardens.FindByOwner(ctx, id.UserID)
	if err != nil {
		c.logger.Error("list gardens failed", zap.String("user_id", id.UserID), zap.Error(err))
		observability.HubMessagesTotal.WithLabelValues(req.Type, "error").Inc()
		c.reply(ctx, encode(errorMessage{Error: msgInternal}))
		return
	}

	nearby := make([]nearbyGarden, 0, len(gardens))
	for _, g := range gardens {
		d := geo.Distance(point, g.Location)
		if h.cfg.NearbyMaxDistanceMeters > 0 && d > h.cfg.NearbyMaxDistanceMeters {
			continue
		}
		nearby = append(nearby, nearbyGarden{Garden: g, distance: d})
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].distance < nearby[j].distance })

	out := make([]models.Garden, len(nearby))
	for i, n := range nearby {
		out[i] = n.Garden
	}
	c.reply(ctx, encode(out))
	observability.HubMessagesTotal.WithLabelValues(req.Type, "ok").Inc()
}

// NotifyWeatherChanged pushes a weatherUpdate event to every open connection. It never blocks;
// slow clients miss events.
func (h *Hub) NotifyWeatherChanged(gardenID string, reading models.WeatherReading) {
	msg := encode(weatherUpdateMessage{Type: TypeWeatherUpdate, GardenID: gardenID, Weather: reading})
	queued, dropped := h.conns.broadcast(msg)
	observability.HubBroadcastsTotal.Add(float64(queued))
	if dropped > 0 {
		observability.HubBroadcastsDroppedTotal.Add(float64(dropped))
		h.logger.Debug("broadcast dropped for slow clients", zap.String("garden_id", gardenID), zap.Int("dropped", dropped))
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Shutdown sends close 1001 to every connection, cancels in-flight requests and waits for
// connection goroutines to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	for _, c := range h.conns.snapshot() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		_ = c.ws.SetReadDeadline(time.Now().Add(drainTimeout))
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hub shutdown: %w", ctx.Err())
	}
}
