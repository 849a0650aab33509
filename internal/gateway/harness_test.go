package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGateway is an httptest TLS server that speaks enough of the gateway
// protocol for the client tests. Handlers are swappable per test; the
// defaults report an authenticated session and empty payloads.
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	authenticated bool
	reauthFails   bool
	tickleFails   bool

	statusCalls int
	reauthCalls int
	tickleCalls int

	searchHandler  func(symbol, secType string) (any, int)
	strikesHandler func(conid int, month string) (any, int)
	infoHandler    func(conid int) (any, int)
	orderHandler   func(accountID string, body []byte) (any, int)
	replyHandler   func(replyID string, body []byte) (any, int)
	tradesHandler  func() (any, int)

	accounts         any // /portfolio/accounts payload
	positionsPayload any // /portfolio/.../positions payloads
	summaryIDs       []string

	orderCalls      int
	confirmCalls    int
	lastReplyID     string
	lastConfirmBody []byte
	snapshotCalls   int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	f := &fakeGateway{t: t, authenticated: true}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/api/iserver/auth/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.statusCalls++
		authed := f.authenticated
		f.mu.Unlock()
		writeJSON(w, 200, AuthStatus{Authenticated: authed, Connected: true})
	})

	mux.HandleFunc("/v1/api/iserver/reauthenticate", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.reauthCalls++
		fails := f.reauthFails
		if !fails {
			f.authenticated = true
		}
		f.mu.Unlock()
		if fails {
			writeJSON(w, 500, map[string]string{"error": "not authenticated"})
			return
		}
		writeJSON(w, 200, map[string]string{"message": "triggered"})
	})

	mux.HandleFunc("/v1/api/tickle", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tickleCalls++
		fails := f.tickleFails
		f.mu.Unlock()
		if fails {
			writeJSON(w, 500, map[string]string{"error": "not authenticated"})
			return
		}
		writeJSON(w, 200, map[string]string{"session": "abc"})
	})

	mux.HandleFunc("/v1/api/iserver/secdef/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h := f.searchHandler
		f.mu.Unlock()
		if h == nil {
			writeJSON(w, 200, []SearchResult{})
			return
		}
		body, status := h(r.URL.Query().Get("symbol"), r.URL.Query().Get("secType"))
		writeJSON(w, status, body)
	})

	mux.HandleFunc("/v1/api/iserver/secdef/strikes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h := f.strikesHandler
		f.mu.Unlock()
		if h == nil {
			writeJSON(w, 200, strikesResponse{})
			return
		}
		conid, _ := strconv.Atoi(r.URL.Query().Get("conid"))
		body, status := h(conid, r.URL.Query().Get("month"))
		writeJSON(w, status, body)
	})

	mux.HandleFunc("/v1/api/iserver/secdef/info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		h := f.infoHandler
		f.mu.Unlock()
		if h == nil {
			writeJSON(w, 200, map[string]any{})
			return
		}
		conid, _ := strconv.Atoi(r.URL.Query().Get("conid"))
		body, status := h(conid)
		writeJSON(w, status, body)
	})

	mux.HandleFunc("/v1/api/iserver/marketdata/snapshot", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.snapshotCalls++
		n := f.snapshotCalls
		f.mu.Unlock()
		// First call initializes the stream and returns a sparse payload.
		if n%2 == 1 {
			writeJSON(w, 200, []map[string]any{{"conid": 265598}})
			return
		}
		writeJSON(w, 200, []map[string]any{{"conid": 265598, "31": "150.25", "84": "150.20"}})
	})

	mux.HandleFunc("/v1/api/iserver/reply/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.confirmCalls++
		f.lastReplyID = strings.TrimPrefix(r.URL.Path, "/v1/api/iserver/reply/")
		f.lastConfirmBody = body
		h := f.replyHandler
		replyID := f.lastReplyID
		f.mu.Unlock()
		if h == nil {
			writeJSON(w, 200, []map[string]any{{"order_id": "1", "order_status": "Submitted"}})
			return
		}
		resp, status := h(replyID, body)
		writeJSON(w, status, resp)
	})

	mux.HandleFunc("/v1/api/portfolio/accounts", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		accounts := f.accounts
		f.mu.Unlock()
		if accounts == nil {
			accounts = []map[string]any{}
		}
		writeJSON(w, 200, accounts)
	})

	mux.HandleFunc("/v1/api/portfolio/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/summary"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/api/portfolio/"), "/summary")
			f.mu.Lock()
			f.summaryIDs = append(f.summaryIDs, id)
			f.mu.Unlock()
			writeJSON(w, 200, map[string]any{"accountcode": map[string]any{"value": id}})
		case strings.Contains(r.URL.Path, "/positions"):
			f.mu.Lock()
			positions := f.positionsPayload
			f.mu.Unlock()
			if positions == nil {
				positions = []map[string]any{}
			}
			writeJSON(w, 200, positions)
		default:
			writeJSON(w, 200, map[string]any{})
		}
	})

	mux.HandleFunc("/v1/api/iserver/account/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "GET" && strings.HasSuffix(r.URL.Path, "/trades") {
			f.mu.Lock()
			h := f.tradesHandler
			f.mu.Unlock()
			if h == nil {
				writeJSON(w, 200, []map[string]any{})
				return
			}
			resp, status := h()
			writeJSON(w, status, resp)
			return
		}
		if r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/orders") {
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.orderCalls++
			h := f.orderHandler
			f.mu.Unlock()
			accountID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/api/iserver/account/"), "/orders")
			if h == nil {
				writeJSON(w, 200, []map[string]any{{"order_id": "1", "order_status": "Submitted"}})
				return
			}
			resp, status := h(accountID, body)
			writeJSON(w, status, resp)
			return
		}
		writeJSON(w, 200, []map[string]any{})
	})

	f.srv = httptest.NewTLSServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// client builds a Client against the fake with fast test timings. tweak
// may adjust the config before construction.
func (f *fakeGateway) client(tweak func(*Config)) *Client {
	u, err := url.Parse(f.srv.URL)
	if err != nil {
		f.t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	cfg := Config{
		Host:           u.Hostname(),
		Port:           port,
		Timeout:        5 * time.Second,
		TickleTimeout:  time.Second,
		TickleInterval: 20 * time.Millisecond,
		SideChannelRPS: 1000, // tests hammer the side channel
	}
	if tweak != nil {
		tweak(&cfg)
	}
	c := New(cfg)
	f.t.Cleanup(c.Destroy)
	return c
}

func (f *fakeGateway) setAuthenticated(v bool) {
	f.mu.Lock()
	f.authenticated = v
	f.mu.Unlock()
}

func (f *fakeGateway) counts() (status, reauth, tickle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.reauthCalls, f.tickleCalls
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// tickleRunning reports whether the keep-alive loop is active.
func (c *Client) tickleRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickleCancel != nil
}
