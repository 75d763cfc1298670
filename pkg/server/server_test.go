package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/uisync/pkg/middleware"
	"github.com/vango-dev/uisync/pkg/model"
	"github.com/vango-dev/uisync/pkg/protocol"
)

// testDesktop: form(1) > name field(2), save menu(3), fail menu(4).
func testDesktop(context.Context, *protocol.Request) (model.Model, error) {
	form := model.NewNode("Form", model.WithProperty("title", "Customer"))
	name := model.NewNode("StringField",
		model.WithProperty("label", "Name"),
		model.WithWritableProperty("value", ""))
	save := model.NewNode("Menu", model.WithProperty("text", "Save"))
	fail := model.NewNode("Menu", model.WithProperty("text", "Fail"))

	save.OnAction("click", func(*model.Node, map[string]any) error {
		form.Set("title", "Saved "+name.Get("value").(string))
		return nil
	})
	fail.OnAction("click", func(*model.Node, map[string]any) error {
		return errors.New("database unavailable")
	})

	form.AddChild(name)
	form.AddChild(save)
	form.AddChild(fail)
	return form, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &ServerConfig{
		RootFactory:   testDesktop,
		WebSocketPath: "/json/ws",
		LogoutPath:    "/logout",
		Metrics:       middleware.NewMetrics(middleware.WithRegistry(prometheus.NewRegistry())),
		Logger:        quietLogger(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return srv, ts
}

type client struct {
	t    *testing.T
	url  string
	http *http.Client
}

func newClient(t *testing.T, ts *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &client{t: t, url: ts.URL, http: &http.Client{Jar: jar}}
}

func (c *client) post(path, body string) (*http.Response, *protocol.Response) {
	c.t.Helper()
	res, err := c.http.Post(c.url+path, "application/json", strings.NewReader(body))
	if err != nil {
		c.t.Fatalf("POST %s: %v", path, err)
	}
	defer res.Body.Close()

	var resp protocol.Response
	if res.StatusCode != http.StatusNotFound {
		if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
	return res, &resp
}

func (c *client) send(body string) (int, *protocol.Response) {
	c.t.Helper()
	res, resp := c.post("/json", body)
	return res.StatusCode, resp
}

func TestPing(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c := newClient(t, ts)

	for _, body := range []string{"", `{"kind":"ping"}`, `{}`} {
		status, resp := c.send(body)
		if status != http.StatusOK || resp.IsError() || len(resp.Events) != 0 {
			t.Errorf("ping %q = %d %+v", body, status, resp)
		}
	}
	if srv.Directory().Len() != 0 {
		t.Error("ping created a session")
	}
}

func TestStartupAndEvents(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts)

	status, resp := c.send(`{"session":"S1","kind":"startup"}`)
	if status != http.StatusOK || resp.IsError() {
		t.Fatalf("startup = %d %+v", status, resp.Error)
	}
	if resp.StartupData == nil || resp.StartupData.RootAdapter != "1" {
		t.Fatalf("startupData = %+v", resp.StartupData)
	}
	if len(resp.AdapterData) != 4 || resp.AdapterData["1"].ObjectType != "Form" {
		t.Fatalf("adapterData = %+v", resp.AdapterData)
	}

	// Client-side write: no echo.
	status, resp = c.send(`{"session":"S1","kind":"event","target":"2","event":"property","data":{"name":"value","value":"Ada"}}`)
	if status != http.StatusOK || resp.IsError() || len(resp.Events) != 0 {
		t.Fatalf("property write = %d %+v", status, resp)
	}

	status, resp = c.send(`{"session":"S1","kind":"event","target":"3","event":"click"}`)
	if status != http.StatusOK || resp.IsError() {
		t.Fatalf("click = %d %+v", status, resp.Error)
	}
	if len(resp.Events) != 1 || resp.Events[0].Target != "1" || resp.Events[0].Properties["title"] != "Saved Ada" {
		t.Errorf("events = %+v", resp.Events)
	}

	// Same click again: the title is unchanged, nothing to send.
	_, resp = c.send(`{"session":"S1","kind":"event","target":"3","event":"click"}`)
	if len(resp.Events) != 0 {
		t.Errorf("unchanged click events = %+v", resp.Events)
	}
}

func TestErrorResponses(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts)
	c.send(`{"session":"S1","kind":"startup"}`)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   protocol.ErrorCode
	}{
		{"unknown session", `{"session":"unknown-id","kind":"event","target":"1","event":"click"}`, http.StatusOK, protocol.ErrSessionTimeout},
		{"duplicate startup", `{"session":"S1","kind":"startup"}`, http.StatusInternalServerError, protocol.ErrIllegalState},
		{"unknown adapter", `{"session":"S1","kind":"event","target":"99","event":"click"}`, http.StatusOK, protocol.ErrUnknownAdapter},
		{"malformed", `{"session":`, http.StatusOK, protocol.ErrBadRequest},
		{"unknown kind", `{"session":"S1","kind":"reload"}`, http.StatusOK, protocol.ErrBadRequest},
		{"model failure", `{"session":"S1","kind":"event","target":"4","event":"click"}`, http.StatusInternalServerError, protocol.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := c.send(tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Code() != tt.wantCode {
				t.Errorf("code = %v, want %v", resp.Code(), tt.wantCode)
			}
			if resp.Error == nil || resp.Error.Message != tt.wantCode.DefaultMessage() {
				t.Errorf("error = %+v", resp.Error)
			}
		})
	}

	// The session survives the internal failure.
	status, resp := c.send(`{"session":"S1","kind":"event","target":"3","event":"click"}`)
	if status != http.StatusOK || resp.IsError() {
		t.Errorf("after failure = %d %+v", status, resp.Error)
	}
}

func TestStartupFailure(t *testing.T) {
	srv, ts := newTestServer(t, func(cfg *ServerConfig) {
		cfg.RootFactory = func(context.Context, *protocol.Request) (model.Model, error) {
			panic("no desktop")
		}
	})
	c := newClient(t, ts)

	status, resp := c.send(`{"session":"S1","kind":"startup"}`)
	if status != http.StatusInternalServerError || resp.Code() != protocol.ErrStartupFailed {
		t.Errorf("startup = %d %+v", status, resp.Error)
	}
	if resp.Error.Message != "Initialization failed" {
		t.Errorf("message = %q", resp.Error.Message)
	}
	if srv.Directory().Len() != 0 {
		t.Error("failed session left registered")
	}
}

func TestUnload(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c := newClient(t, ts)

	status, resp := c.send(`{"session":"never","kind":"unload"}`)
	if status != http.StatusOK || resp.IsError() || resp.Events == nil {
		t.Errorf("unload unknown = %d %+v", status, resp)
	}

	c.send(`{"session":"S1","kind":"startup"}`)
	status, resp = c.send(`{"session":"S1","kind":"unload"}`)
	if status != http.StatusOK || resp.IsError() {
		t.Errorf("unload = %d %+v", status, resp)
	}
	if srv.Directory().Len() != 0 {
		t.Error("session survived unload")
	}

	_, resp = c.send(`{"session":"S1","kind":"event","target":"1","event":"click"}`)
	if resp.Code() != protocol.ErrSessionTimeout {
		t.Errorf("event after unload code = %v", resp.Code())
	}
}

func TestNoCacheHeaders(t *testing.T) {
	_, ts := newTestServer(t, nil)
	c := newClient(t, ts)

	res, _ := c.post("/json", `{"kind":"ping"}`)
	if cc := res.Header.Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %q", cc)
	}
	if res.Header.Get("Pragma") != "no-cache" {
		t.Errorf("Pragma = %q", res.Header.Get("Pragma"))
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestCompression(t *testing.T) {
	startup := func(t *testing.T, compress bool) *http.Response {
		_, ts := newTestServer(t, func(c *ServerConfig) {
			c.Compress = compress
			c.CompressMinSize = 16
		})
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/json",
			strings.NewReader(`{"session":"S1","kind":"startup"}`))
		if err != nil {
			t.Fatal(err)
		}
		// An explicit Accept-Encoding turns off transparent decompression.
		req.Header.Set("Accept-Encoding", "gzip")
		res, err := ts.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	t.Run("enabled", func(t *testing.T) {
		res := startup(t, true)
		if got := res.Header.Get("Content-Encoding"); got != "gzip" {
			t.Fatalf("Content-Encoding = %q, want gzip", got)
		}
		zr, err := gzip.NewReader(res.Body)
		if err != nil {
			t.Fatal(err)
		}
		var resp protocol.Response
		if err := json.NewDecoder(zr).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.StartupData == nil || resp.StartupData.RootAdapter != "1" {
			t.Errorf("startup data = %+v", resp.StartupData)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		res := startup(t, false)
		if got := res.Header.Get("Content-Encoding"); got != "" {
			t.Errorf("Content-Encoding = %q, want none", got)
		}
	})
}

func TestRouting(t *testing.T) {
	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "static:"+r.URL.Path)
	})
	_, ts := newTestServer(t, func(cfg *ServerConfig) { cfg.Static = static })
	c := newClient(t, ts)

	res, _ := c.post("/other", `{"kind":"ping"}`)
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("POST /other = %d, want 404", res.StatusCode)
	}

	res, err := c.http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if string(body) != "static:/index.html" {
		t.Errorf("GET /index.html = %q", body)
	}

	c.send(`{"kind":"ping"}`)
	c.send(`not json`)
	res, err = c.http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), "uisync_requests_total") {
		t.Errorf("metrics output missing requests_total:\n%s", body)
	}
	if !strings.Contains(string(body), `uisync_requests_total{code="bad-request",kind="invalid"} 1`) {
		t.Errorf("undecodable request not counted as kind=invalid:\n%s", body)
	}
}

func TestSessionsAreScopedToContainer(t *testing.T) {
	_, ts := newTestServer(t, nil)
	alice := newClient(t, ts)
	bob := newClient(t, ts)

	alice.send(`{"session":"S1","kind":"startup"}`)

	_, resp := bob.send(`{"session":"S1","kind":"event","target":"3","event":"click"}`)
	if resp.Code() != protocol.ErrSessionTimeout {
		t.Errorf("foreign container code = %v, want session-timeout", resp.Code())
	}

	// The same identifier in another container is an independent session.
	status, resp := bob.send(`{"session":"S1","kind":"startup"}`)
	if status != http.StatusOK || resp.IsError() {
		t.Errorf("bob startup = %d %+v", status, resp.Error)
	}
}

func TestLogoutDisposesSessions(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	c := newClient(t, ts)

	c.send(`{"session":"S1","kind":"startup"}`)
	c.send(`{"session":"S2","kind":"startup"}`)
	if srv.Directory().Len() != 2 {
		t.Fatalf("Len() = %d", srv.Directory().Len())
	}

	res, err := c.http.Post(ts.URL+"/logout", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d", res.StatusCode)
	}
	if srv.Directory().Len() != 0 {
		t.Errorf("Len() after logout = %d", srv.Directory().Len())
	}

	_, resp := c.send(`{"session":"S1","kind":"event","target":"3","event":"click"}`)
	if resp.Code() != protocol.ErrSessionTimeout {
		t.Errorf("code after logout = %v", resp.Code())
	}
}

func TestWebSocketTransport(t *testing.T) {
	_, ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/json/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	roundTrip := func(body string) *protocol.Response {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return &resp
	}

	if resp := roundTrip(`{"kind":"ping"}`); resp.IsError() {
		t.Errorf("ping = %+v", resp.Error)
	}
	if resp := roundTrip(`{"session":"W1","kind":"startup"}`); resp.StartupData == nil {
		t.Fatalf("startup = %+v", resp)
	}
	roundTrip(`{"session":"W1","kind":"event","target":"2","event":"property","data":{"name":"value","value":"Bo"}}`)
	resp := roundTrip(`{"session":"W1","kind":"event","target":"3","event":"click"}`)
	if len(resp.Events) != 1 || resp.Events[0].Properties["title"] != "Saved Bo" {
		t.Errorf("click = %+v", resp.Events)
	}
	if resp := roundTrip(`not json`); resp.Code() != protocol.ErrBadRequest {
		t.Errorf("garbage code = %v", resp.Code())
	}
}

func TestWebSocketKeepsContainerAlive(t *testing.T) {
	srv, ts := newTestServer(t, func(c *ServerConfig) {
		c.HTTPSession.IdleTimeout = time.Hour
		c.HTTPSession.CleanupInterval = time.Hour
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/json/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	send := func(body string) (*protocol.Response, error) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var resp protocol.Response
		return &resp, json.Unmarshal(data, &resp)
	}

	if _, err := send(`{"session":"W1","kind":"startup"}`); err != nil {
		t.Fatalf("startup: %v", err)
	}
	upgraded := time.Now()
	time.Sleep(20 * time.Millisecond)
	if _, err := send(`{"session":"W1","kind":"event","target":"3","event":"click"}`); err != nil {
		t.Fatalf("click: %v", err)
	}

	// Idle since just after the upgrade, active since then over the socket.
	if n := srv.Containers().Expire(upgraded.Add(time.Hour + 10*time.Millisecond)); n != 0 {
		t.Fatalf("Expire() = %d, container of an active socket expired", n)
	}
	if srv.Directory().Len() != 1 {
		t.Fatalf("Directory().Len() = %d, want 1", srv.Directory().Len())
	}

	// Once the container is gone the socket is closed.
	if n := srv.Containers().Expire(time.Now().Add(2 * time.Hour)); n != 1 {
		t.Fatalf("Expire() = %d, want 1", n)
	}
	_, err = send(`{"session":"W1","kind":"event","target":"3","event":"click"}`)
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("frame after container end = %v, want policy violation close", err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	srv := New(&ServerConfig{RootFactory: testDesktop, Logger: quietLogger()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	c := &client{t: t, url: "http://" + ln.Addr().String(), http: &http.Client{}}
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := c.http.Post(c.url+"/json", "application/json", strings.NewReader(`{"session":"S1","kind":"startup"}`))
		if err == nil {
			res.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Directory().Len() != 1 {
		t.Fatalf("Len() = %d", srv.Directory().Len())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if srv.Directory().Len() != 0 {
		t.Error("sessions survived shutdown")
	}
	if err := srv.Serve(context.Background(), ln); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve() after shutdown = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrNoRootFactory) {
		t.Errorf("Validate() = %v, want ErrNoRootFactory", err)
	}
	cfg.RootFactory = testDesktop
	cfg.Path = "json"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Validate() = %v, want ErrInvalidPath", err)
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://example.com", true},
		{"http://evil.com", false},
		{"://bad", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://example.com/json/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := SameOriginCheck(r); got != tt.want {
			t.Errorf("SameOriginCheck(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
