package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"ocpphub/backend/services/ocpp-server/internal/ocpp"
)

// echoProcessor acknowledges every Call with an empty CallResult and forwards replies to the
// correlator when one is set.
type echoProcessor struct {
	parser     *ocpp.Parser
	correlator *ocpp.Correlator
}

func (p *echoProcessor) Process(_ context.Context, stationID string, raw []byte) ([]byte, error) {
	msg, err := p.parser.Parse(raw)
	if err != nil {
		return ocpp.BuildCallError("", "InternalError", err.Error())
	}
	switch msg.MessageType {
	case 3:
		if p.correlator != nil {
			p.correlator.HandleCallResult(stationID, msg.UniqueID, msg.Payload)
		}
		return nil, nil
	case 4:
		return nil, nil
	}
	return ocpp.BuildCallResult(msg.UniqueID, map[string]string{"station": stationID})
}

type countingFailer struct {
	mu       sync.Mutex
	stations []string
	inner    StationFailer
}

func (f *countingFailer) FailStation(stationID string) int {
	f.mu.Lock()
	f.stations = append(f.stations, stationID)
	f.mu.Unlock()
	if f.inner != nil {
		return f.inner.FailStation(stationID)
	}
	return 0
}

func (f *countingFailer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stations...)
}

type testServer struct {
	*httptest.Server
	manager    *Manager
	correlator *ocpp.Correlator
	failer     *countingFailer
}

func newTestServer(t *testing.T, auth *BasicAuth) *testServer {
	t.Helper()
	manager := NewManager(time.Hour, nil, nil)
	correlator := ocpp.NewCorrelator(manager, 2*time.Second, nil, nil)
	failer := &countingFailer{inner: correlator}
	srv := NewServer(manager, &echoProcessor{parser: ocpp.NewParser(), correlator: correlator}, ServerOptions{
		WriteTimeout: time.Second,
		ReadTimeout:  5 * time.Second,
		Auth:         auth,
		Failer:       failer,
	}, nil)

	mux := http.NewServeMux()
	mux.HandleFunc(PathPrefix, srv.HandleWS)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		manager.CloseAll()
		ts.Close()
	})
	return &testServer{Server: ts, manager: manager, correlator: correlator, failer: failer}
}

func (s *testServer) dial(t *testing.T, stationID string, header http.Header) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{SubprotocolOCPP16}, HandshakeTimeout: time.Second}
	url := "ws" + strings.TrimPrefix(s.URL, "http") + PathPrefix + stationID
	conn, resp, err := dialer.Dial(url, header)
	require.NoError(t, err)
	assert.Equal(t, SubprotocolOCPP16, resp.Header.Get("Sec-WebSocket-Protocol"))
	waitFor(t, func() bool { return s.manager.IsOpen(stationID) })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestStationIDFromPath(t *testing.T) {
	id, ok := StationIDFromPath("/ocpp/CP%201")
	assert.True(t, ok)
	assert.Equal(t, "CP 1", id)

	for _, p := range []string{"/ocpp/", "/ocpp", "/ocpp/a/b", "/other/CP-1", "/ocpp/%20"} {
		_, ok := StationIDFromPath(p)
		assert.False(t, ok, p)
	}
}

func TestMissingStationIDIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	resp, err := http.Get(s.URL + PathPrefix)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCallIsAnswered(t *testing.T) {
	s := newTestServer(t, nil)
	conn := s.dial(t, "CP-1", nil)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[2,"m1","Heartbeat",{}]`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"m1",{"station":"CP-1"}]`, string(data))

	snapshot := s.manager.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "CP-1", snapshot[0].StationID)
	assert.Equal(t, SubprotocolOCPP16, snapshot[0].Subprotocol)
}

func TestCommandRoundTripOverSocket(t *testing.T) {
	s := newTestServer(t, nil)
	conn := s.dial(t, "CP-1", nil)
	defer conn.Close()

	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if json.Unmarshal(data, &frame) != nil || len(frame) != 4 {
			return
		}
		var id string
		_ = json.Unmarshal(frame[1], &id)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[3,"`+id+`",{"status":"Accepted"}]`))
	}()

	resp, err := s.correlator.Issue(context.Background(), "CP-1", "Reset", map[string]string{"type": "Soft"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(resp))
}

func TestDisconnectFailsPendingCommands(t *testing.T) {
	s := newTestServer(t, nil)
	conn := s.dial(t, "CP-1", nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.correlator.Issue(context.Background(), "CP-1", "Reset", map[string]string{"type": "Hard"}, 10*time.Second)
		errCh <- err
	}()
	waitFor(t, func() bool { return s.correlator.Pending() == 1 })

	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ocpp.ErrDeviceDisconnected), "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("pending command was not failed on disconnect")
	}
	waitFor(t, func() bool { return !s.manager.IsOpen("CP-1") })
	assert.Equal(t, []string{"CP-1"}, s.failer.calls())
}

func TestReconnectReplacesAndStaleCloseIsIgnored(t *testing.T) {
	s := newTestServer(t, nil)
	first := s.dial(t, "CP-1", nil)
	defer first.Close()
	oldConn, _ := s.manager.Lookup("CP-1")

	second := s.dial(t, "CP-1", nil)
	defer second.Close()
	waitFor(t, func() bool {
		current, ok := s.manager.Lookup("CP-1")
		return ok && current != oldConn
	})

	// the replaced connection is closed by the server
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	select {
	case <-oldConn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced connection not closed")
	}
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.manager.IsOpen("CP-1"))
	assert.Empty(t, s.failer.calls(), "stale close must not fail the new connection's commands")

	require.NoError(t, second.WriteMessage(websocket.TextMessage, []byte(`[2,"m2","Heartbeat",{}]`)))
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"m2"`)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	s := newTestServer(t, NewBasicAuth(map[string]string{"CP-1": string(hash)}))

	url := "ws" + strings.TrimPrefix(s.URL, "http") + PathPrefix + "CP-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	req.SetBasicAuth("CP-1", "wrong")
	header.Set("Authorization", req.Header.Get("Authorization"))
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("CP-1", "secret")
	header.Set("Authorization", req.Header.Get("Authorization"))
	conn := s.dial(t, "CP-1", header)
	conn.Close()
}

func TestNilBasicAuthAllowsAll(t *testing.T) {
	assert.Nil(t, NewBasicAuth(nil))
	var a *BasicAuth
	assert.True(t, a.Authenticate("any", httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestManagerUnregisterRequiresSameHandle(t *testing.T) {
	m := NewManager(0, nil, nil)
	a := &Connection{stationID: "CP-1", done: make(chan struct{})}
	b := &Connection{stationID: "CP-1", done: make(chan struct{})}
	m.connections["CP-1"] = a

	m.mu.Lock()
	m.connections["CP-1"] = b
	m.mu.Unlock()

	assert.False(t, m.Unregister("CP-1", a))
	assert.True(t, m.IsOpen("CP-1"))
	assert.True(t, m.Unregister("CP-1", b))
	assert.False(t, m.IsOpen("CP-1"))

	_, ok := m.LookupSender("CP-1")
	assert.False(t, ok)
}

func TestReadTimeoutZeroKeepsIdleConnection(t *testing.T) {
	for _, tc := range []struct {
		name        string
		readTimeout time.Duration
		wantOpen    bool
	}{
		{"deadline drops idle station", 100 * time.Millisecond, false},
		{"zero disables deadline", 0, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			manager := NewManager(time.Hour, nil, nil)
			srv := NewServer(manager, &echoProcessor{parser: ocpp.NewParser()}, ServerOptions{
				WriteTimeout: time.Second,
				ReadTimeout:  tc.readTimeout,
			}, nil)
			mux := http.NewServeMux()
			mux.HandleFunc(PathPrefix, srv.HandleWS)
			ts := httptest.NewServer(mux)
			defer func() {
				manager.CloseAll()
				ts.Close()
			}()
			s := &testServer{Server: ts, manager: manager}

			conn := s.dial(t, "CP-1", nil)
			defer conn.Close()

			time.Sleep(400 * time.Millisecond)
			assert.Equal(t, tc.wantOpen, manager.IsOpen("CP-1"))
		})
	}
}
