package rpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Cogwheel-Validator/spectra-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-bridge/bridge/tracker"
	"github.com/gorilla/websocket"
)

const (
	// MinStreamInterval is the shortest poll interval a stream client may ask for.
	MinStreamInterval = 250 * time.Millisecond
	streamWriteWait   = 10 * time.Second
)

// trackStream pushes tracking snapshots over a websocket until the transaction is
// terminal, the client goes away or the server shuts down.
type trackStream struct {
	tracker  *tracker.Tracker
	interval time.Duration
	upgrader websocket.Upgrader
}

func newTrackStream(t *tracker.Tracker, interval time.Duration, allowedOrigins []string) *trackStream {
	if interval <= 0 {
		interval = tracker.DefaultPollInterval
	}
	return &trackStream{
		tracker:  t,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP handles GET /stream/track?handle=<id>&interval=<duration>.
func (s *trackStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := tracker.Handle{ID: r.URL.Query().Get("handle")}
	if h.ID == "" {
		http.Error(w, "handle is required", http.StatusBadRequest)
		return
	}
	interval := s.interval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < MinStreamInterval {
			http.Error(w, "interval must be a duration of at least "+MinStreamInterval.String(), http.StatusBadRequest)
			return
		}
		interval = parsed
	}
	if _, err := s.tracker.Snapshot(h); err != nil {
		http.Error(w, "unknown tracking handle", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readUntilClosed(conn, cancel)

	Logger.Debug().Str("handle", h.ID).Dur("interval", interval).Msg("Tracking stream opened")

	_, err = tracker.Watch(ctx, s.tracker, h, interval, func(tx tracker.TrackedTransaction) {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(convertTracking(tx)); err != nil {
			Logger.Debug().Err(err).Str("handle", h.ID).Msg("Tracking stream write failed")
			cancel()
		}
	})

	closeCode, reason := websocket.CloseNormalClosure, "tracking finished"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// the client left or the server is going down, nothing to tell
		return
	case errors.Is(err, tracker.ErrUnknownHandle):
		closeCode, reason = websocket.CloseNormalClosure, "tracking stopped"
	default:
		closeCode, reason = websocket.CloseInternalServerErr, "tracking failed"
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		_ = conn.WriteJSON(models.StreamError{Error: err.Error()})
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, reason),
		time.Now().Add(streamWriteWait),
	)
}

// readUntilClosed drains client frames so close and ping control frames are
// processed, and cancels the stream once the client goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
