package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ocpphub/backend/libs/auth"
	"ocpphub/backend/services/ocpp-server/internal/config"
)

const testSecret = "test-secret"

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Commands.Timeout = 2 * time.Second
	require.NoError(t, cfg.Validate())

	reg := prometheus.NewRegistry()
	a, err := New(context.Background(), cfg, zap.NewNop(), Options{Registerer: reg, Gatherer: reg})
	require.NoError(t, err)

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.Close()
		ts.Close()
	})
	return ts
}

func dialStation(t *testing.T, ts *httptest.Server, stationID string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}, HandshakeTimeout: time.Second}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ocpp/"+stationID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// call sends a Call frame and returns the payload of the matching CallResult.
func call(t *testing.T, conn *websocket.Conn, id, action, payload string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[2,"`+id+`","`+action+`",`+payload+`]`)))
	frame := readFrame(t, conn)
	require.Len(t, frame, 3, "expected CallResult")

	var typ int
	var gotID string
	require.NoError(t, json.Unmarshal(frame[0], &typ))
	require.NoError(t, json.Unmarshal(frame[1], &gotID))
	assert.Equal(t, 3, typ)
	assert.Equal(t, id, gotID)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(frame[2], &out))
	return out
}

func readFrame(t *testing.T, conn *websocket.Conn) []json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestStationLifecycle(t *testing.T) {
	ts := newTestApp(t)
	conn := dialStation(t, ts, "CP-1")

	boot := call(t, conn, "b1", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`)
	assert.Equal(t, "Accepted", boot["status"])
	assert.EqualValues(t, 300, boot["interval"])

	status := call(t, conn, "s1", "StatusNotification", `{"connectorId":1,"status":"Charging","errorCode":"NoError"}`)
	assert.Empty(t, status)

	start := call(t, conn, "t1", "StartTransaction", `{"connectorId":1,"idTag":"TAG-1","meterStart":1000}`)
	assert.EqualValues(t, 1, start["transactionId"])
	assert.Equal(t, map[string]interface{}{"status": "Accepted"}, start["idTagInfo"])

	meter := call(t, conn, "m1", "MeterValues",
		`{"connectorId":1,"transactionId":1,"meterValue":[{"sampledValue":[{"value":"3500","measurand":"Energy.Active.Import.Register","unit":"Wh"}]}]}`)
	assert.Empty(t, meter)

	stop := call(t, conn, "t2", "StopTransaction", `{"transactionId":1,"meterStop":6000}`)
	assert.Equal(t, map[string]interface{}{"status": "Accepted"}, stop["idTagInfo"])

	unknown := call(t, conn, "u1", "FirmwareStatusNotification", `{"status":"Idle"}`)
	assert.Empty(t, unknown)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	frame := readFrame(t, conn)
	require.Len(t, frame, 5)
	assert.JSONEq(t, `""`, string(frame[1]))
	assert.JSONEq(t, `"InternalError"`, string(frame[2]))

	heartbeat := call(t, conn, "h2", "Heartbeat", `{}`)
	assert.NotEmpty(t, heartbeat["currentTime"])
}

func TestCommandAPI(t *testing.T) {
	ts := newTestApp(t)
	token, err := auth.NewTokenService(testSecret, time.Minute).GenerateToken("operator", "admin")
	require.NoError(t, err)

	post := func(body string) (int, map[string]interface{}) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/commands", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return resp.StatusCode, out
	}

	code, _ := post(`{"station_id":"CP-9","action":"Reset","payload":{"type":"Soft"}}`)
	assert.Equal(t, http.StatusNotFound, code)

	conn := dialStation(t, ts, "CP-9")
	call(t, conn, "b1", "BootNotification", `{"chargePointVendor":"Acme","chargePointModel":"X1"}`)

	type result struct {
		code int
		body map[string]interface{}
	}
	done := make(chan result, 1)
	go func() {
		code, body := post(`{"station_id":"CP-9","action":"Reset","payload":{"type":"Soft"}}`)
		done <- result{code, body}
	}()

	frame := readFrame(t, conn)
	require.Len(t, frame, 4)
	var id, action string
	require.NoError(t, json.Unmarshal(frame[1], &id))
	require.NoError(t, json.Unmarshal(frame[2], &action))
	assert.Equal(t, "Reset", action)
	assert.JSONEq(t, `{"type":"Soft"}`, string(frame[3]))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[3,"`+id+`",{"status":"Accepted"}]`)))

	select {
	case res := <-done:
		assert.Equal(t, http.StatusOK, res.code)
		assert.Equal(t, true, res.body["success"])
		assert.Equal(t, map[string]interface{}{"status": "Accepted"}, res.body["response"])
	case <-time.After(3 * time.Second):
		t.Fatal("command request did not complete")
	}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/stations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stations struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stations))
	assert.Equal(t, 1, stations.Count)
}

func TestOperatorAPIRequiresToken(t *testing.T) {
	ts := newTestApp(t)
	resp, err := http.Post(ts.URL+"/api/commands", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestApp(t)
	conn := dialStation(t, ts, "CP-1")
	call(t, conn, "h1", "Heartbeat", `{}`)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ocpp_messages_total")
	assert.Contains(t, string(body), "ocpp_connected_stations 1")
}
