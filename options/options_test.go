package options_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yacchi/bettershare"
	"github.com/yacchi/bettershare/kv/memory"
	"github.com/yacchi/bettershare/options"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	backend := memory.New(nil)
	store, err := bettershare.New(backend, backend)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler, err := options.NewHandler(store, zap.NewNop())
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, backend
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodePrefs(t *testing.T, resp *http.Response) bettershare.UserPreferences {
	t.Helper()
	var p bettershare.UserPreferences
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestGetPreferencesDefaults(t *testing.T) {
	srv, backend := newTestServer(t)

	resp := do(t, http.MethodGet, srv.URL+"/api/preferences", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, bettershare.DefaultPreferences(), decodePrefs(t, resp))

	stored, found, err := backend.Get(t.Context(), bettershare.PreferencesKey)
	require.NoError(t, err)
	require.True(t, found, "defaults should be persisted")
	assert.Equal(t, "1", stored.(map[string]any)["version"])
}

func TestPutPreferences(t *testing.T) {
	srv, _ := newTestServer(t)

	body := `{"version":"1","reddit":"rxddit","x":"vxtwitter","instagram":"ddinstagram"}`
	resp := do(t, http.MethodPut, srv.URL+"/api/preferences", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodePrefs(t, do(t, http.MethodGet, srv.URL+"/api/preferences", ""))
	assert.Equal(t, bettershare.RedditRxddit, got.Reddit)
	assert.Equal(t, bettershare.XVxTwitter, got.X)
}

func TestPutPreferencesRejected(t *testing.T) {
	srv, backend := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "bad json", body: "not-json"},
		{name: "unknown reddit value", body: `{"version":"1","reddit":"nope","x":"fixupx","instagram":"ddinstagram"}`},
		{name: "old version", body: `{"version":"0","reddit":"rxddit","x":"fixupx","instagram":"ddinstagram"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPut, srv.URL+"/api/preferences", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Zero(t, backend.SetCalls())
}

func TestPutSite(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/preferences/x", `{"value":"twittpr"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodePrefs(t, resp)
	assert.Equal(t, bettershare.XTwittpr, got.X)
	assert.Equal(t, bettershare.RedditVxReddit, got.Reddit, "other sites keep their value")

	resp = do(t, http.MethodPut, srv.URL+"/api/preferences/x", `{"value":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/api/preferences/mastodon", `{"value":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReset(t *testing.T) {
	srv, _ := newTestServer(t)

	do(t, http.MethodPut, srv.URL+"/api/preferences/reddit", `{"value":"rxddit"}`)
	resp := do(t, http.MethodPost, srv.URL+"/api/preferences/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodePrefs(t, do(t, http.MethodGet, srv.URL+"/api/preferences", ""))
	assert.Equal(t, bettershare.DefaultPreferences(), got)
}

func TestShare(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		link   string
		status int
		want   string
	}{
		{
			name:   "reddit",
			link:   "https://old.reddit.com/r/golang/comments/abc/title/?utm_source=share",
			status: http.StatusOK,
			want:   "https://vxreddit.com/r/golang/comments/abc/title/",
		},
		{
			name:   "x",
			link:   "https://x.com/golang/status/1?s=20",
			status: http.StatusOK,
			want:   "https://fixupx.com/golang/status/1",
		},
		{name: "unsupported", link: "https://example.com/a", status: http.StatusUnprocessableEntity},
		{name: "missing", link: "", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := srv.URL + "/api/share"
			if tt.link != "" {
				u += "?url=" + url.QueryEscape(tt.link)
			}
			resp := do(t, http.MethodGet, u, "")
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.status != http.StatusOK {
				return
			}
			var out struct {
				URL string `json:"url"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.want, out.URL)
		})
	}
}

func TestStorageErrors(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.FailGet(errors.New("quota exceeded"))

	resp := do(t, http.MethodGet, srv.URL+"/api/preferences", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	backend.FailGet(nil)
	backend.FailSet(errors.New("quota exceeded"))
	resp = do(t, http.MethodPost, srv.URL+"/api/preferences/reset", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type eventMsg struct {
	Type        string                      `json:"type"`
	Preferences bettershare.UserPreferences `json:"preferences"`
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/preferences/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) eventMsg {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg eventMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestEventsSendsCurrentThenUpdates(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dialEvents(t, srv)

	first := readEvent(t, conn)
	assert.Equal(t, "preferences", first.Type)
	assert.Equal(t, bettershare.DefaultPreferences(), first.Preferences)

	resp := do(t, http.MethodPut, srv.URL+"/api/preferences/instagram", `{"value":"ddinstagram"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodPut, srv.URL+"/api/preferences/reddit", `{"value":"rxddit"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Intermediate updates may be coalesced; the last one always arrives.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readEvent(t, conn)
		if msg.Preferences.Reddit == bettershare.RedditRxddit {
			return
		}
	}
	t.Fatal("update was not delivered")
}

func TestEventsExternalChange(t *testing.T) {
	srv, backend := newTestServer(t)
	conn := dialEvents(t, srv)
	readEvent(t, conn)

	changed := bettershare.DefaultPreferences()
	changed.X = bettershare.XFxTwitter
	require.NoError(t, backend.Set(t.Context(), bettershare.PreferencesKey, changed.Record()))

	msg := readEvent(t, conn)
	assert.Equal(t, bettershare.XFxTwitter, msg.Preferences.X)
}

func TestNewHandlerRejectsNilStore(t *testing.T) {
	handler, err := options.NewHandler(nil, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, handler)
}

func TestNewHandlerNilLogger(t *testing.T) {
	backend := memory.New(nil)
	store, err := bettershare.New(backend, backend)
	require.NoError(t, err)
	defer store.Close()

	handler, err := options.NewHandler(store, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	defer srv.Close()
	resp := do(t, http.MethodGet, srv.URL+"/api/preferences", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
