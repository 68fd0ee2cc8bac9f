package options

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yacchi/bettershare"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type event struct {
	Type        string                      `json:"type"`
	Preferences bettershare.UserPreferences `json:"preferences"`
}

// latest holds the most recent undelivered preferences. A newer value
// replaces an older one that has not been sent yet.
type latest struct {
	mu      sync.Mutex
	value   bettershare.UserPreferences
	pending bool
	ready   chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{}, 1)}
}

func (l *latest) put(p bettershare.UserPreferences) {
	l.mu.Lock()
	l.value = p
	l.pending = true
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() (bettershare.UserPreferences, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.pending {
		return bettershare.UserPreferences{}, false
	}
	l.pending = false
	return l.value, true
}

func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	store := bettershare.FromContext(r.Context())
	logger := h.logger.With(zap.String("conn", uuid.NewString()))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Subscribe before the first load so no update falls in between.
	updates := newLatest()
	id := store.OnPreferenceUpdate(updates.put)
	defer store.RemovePreferenceUpdateListener(id)

	current, err := store.LoadPreferences(r.Context())
	if err != nil {
		logger.Error("failed to load preferences", zap.Error(err))
		return
	}
	if err := send(conn, current); err != nil {
		return
	}
	logger.Debug("events client connected")

	// Reads only detect the client going away; incoming messages are ignored.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			logger.Debug("events client disconnected")
			return
		case <-updates.ready:
			p, ok := updates.take()
			if !ok {
				continue
			}
			if err := send(conn, p); err != nil {
				logger.Debug("events write failed", zap.Error(err))
				return
			}
		}
	}
}

func send(conn *websocket.Conn, p bettershare.UserPreferences) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event{Type: "preferences", Preferences: p})
}
