package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	frames   [][]interface{}
	writeErr error
}

func (f *fakeSender) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	var decoded []interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return err
	}
	f.frames = append(f.frames, decoded)
	return nil
}

func (f *fakeSender) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) messageIDAt(index int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.frames) {
		return ""
	}
	id, _ := f.frames[index][1].(string)
	return id
}

type fakeLookup struct {
	mu    sync.Mutex
	conns map[string]Sender
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{conns: make(map[string]Sender)}
}

func (l *fakeLookup) set(stationID string, s Sender) {
	l.mu.Lock()
	l.conns[stationID] = s
	l.mu.Unlock()
}

func (l *fakeLookup) LookupSender(stationID string) (Sender, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.conns[stationID]
	return s, ok
}

type issueOutcome struct {
	payload json.RawMessage
	err     error
}

func issueAsync(c *Correlator, ctx context.Context, stationID, action string, timeout time.Duration) <-chan issueOutcome {
	out := make(chan issueOutcome, 1)
	go func() {
		payload, err := c.Issue(ctx, stationID, action, map[string]interface{}{"connectorId": 1}, timeout)
		out <- issueOutcome{payload: payload, err: err}
	}()
	return out
}

func awaitOutcome(t *testing.T, ch <-chan issueOutcome) issueOutcome {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("command did not resolve")
		return issueOutcome{}
	}
}

func TestCorrelatorIssueRequiresConnection(t *testing.T) {
	c := NewCorrelator(newFakeLookup(), time.Second, nil, nil)
	_, err := c.Issue(context.Background(), "station-1", "Reset", nil, 0)
	assert.ErrorIs(t, err, ErrDeviceNotConnected)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorResolvesCallResult(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-1", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	out := issueAsync(c, context.Background(), "station-1", "RemoteStartTransaction", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 1 })

	messageID := fake.messageIDAt(0)
	require.NotEmpty(t, messageID)
	assert.Equal(t, 1, c.Pending())

	c.HandleCallResult("station-1", messageID, json.RawMessage(`{"status":"Accepted"}`))

	res := awaitOutcome(t, out)
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(res.payload))
	assert.Equal(t, 0, c.Pending())

	// a duplicate reply has no effect
	c.HandleCallResult("station-1", messageID, json.RawMessage(`{}`))
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorResolvesCallError(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-2", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	out := issueAsync(c, context.Background(), "station-2", "UnlockConnector", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 1 })

	c.HandleCallError("station-2", fake.messageIDAt(0), "NotSupported", "unlock unavailable", nil)

	res := awaitOutcome(t, out)
	remote, ok := IsRemoteError(res.err)
	require.True(t, ok)
	assert.Equal(t, "NotSupported", remote.Code)
	assert.Equal(t, "unlock unavailable", remote.Description)
}

func TestCorrelatorTimesOut(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-7", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	out := issueAsync(c, context.Background(), "station-7", "RemoteStopTransaction", 20*time.Millisecond)
	res := awaitOutcome(t, out)
	assert.ErrorIs(t, res.err, ErrCommandTimeout)
	assert.Equal(t, 0, c.Pending())

	// a late reply after the deadline is discarded
	c.HandleCallResult("station-7", fake.messageIDAt(0), json.RawMessage(`{}`))
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorIgnoresReplyFromOtherStation(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-a", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	out := issueAsync(c, context.Background(), "station-a", "Reset", 50*time.Millisecond)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 1 })

	c.HandleCallResult("station-b", fake.messageIDAt(0), json.RawMessage(`{}`))
	assert.Equal(t, 1, c.Pending())

	res := awaitOutcome(t, out)
	assert.ErrorIs(t, res.err, ErrCommandTimeout)
}

func TestCorrelatorFailsPendingOnDisconnect(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-9", fake)
	c := NewCorrelator(lookup, time.Minute, nil, nil)

	first := issueAsync(c, context.Background(), "station-9", "Reset", 0)
	second := issueAsync(c, context.Background(), "station-9", "ClearCache", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 2 })

	assert.Equal(t, 2, c.FailStation("station-9"))
	assert.ErrorIs(t, awaitOutcome(t, first).err, ErrDeviceDisconnected)
	assert.ErrorIs(t, awaitOutcome(t, second).err, ErrDeviceDisconnected)
	assert.Equal(t, 0, c.FailStation("station-9"))
}

func TestCorrelatorSendFailureRemovesPending(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{writeErr: errors.New("boom")}
	lookup.set("station-3", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	_, err := c.Issue(context.Background(), "station-3", "Reset", nil, 0)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorCallerCancellation(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-4", fake)
	c := NewCorrelator(lookup, time.Minute, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := issueAsync(c, ctx, "station-4", "Reset", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 1 })
	cancel()

	assert.ErrorIs(t, awaitOutcome(t, out).err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestCorrelatorRegeneratesCollidingIDs(t *testing.T) {
	originalGenerator := idGenerator
	ids := []string{"dup", "dup", "fresh"}
	var mu sync.Mutex
	idGenerator = func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return originalGenerator()
		}
		id := ids[0]
		ids = ids[1:]
		return id
	}
	t.Cleanup(func() { idGenerator = originalGenerator })

	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-5", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	first := issueAsync(c, context.Background(), "station-5", "Reset", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 1 })
	second := issueAsync(c, context.Background(), "station-5", "Reset", 0)
	waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == 2 })

	assert.Equal(t, "dup", fake.messageIDAt(0))
	assert.Equal(t, "fresh", fake.messageIDAt(1))

	c.HandleCallResult("station-5", "dup", json.RawMessage(`{"n":1}`))
	c.HandleCallResult("station-5", "fresh", json.RawMessage(`{"n":2}`))
	assert.JSONEq(t, `{"n":1}`, string(awaitOutcome(t, first).payload))
	assert.JSONEq(t, `{"n":2}`, string(awaitOutcome(t, second).payload))
}

func TestCorrelatorExactlyOneResolutionUnderRace(t *testing.T) {
	lookup := newFakeLookup()
	fake := &fakeSender{}
	lookup.set("station-r", fake)
	c := NewCorrelator(lookup, time.Second, nil, nil)

	for i := 0; i < 50; i++ {
		out := issueAsync(c, context.Background(), "station-r", "Reset", 5*time.Millisecond)
		waitFor(t, 200*time.Millisecond, func() bool { return fake.frameCount() == i+1 })
		id := fake.messageIDAt(i)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); c.HandleCallResult("station-r", id, json.RawMessage(`{}`)) }()
		go func() { defer wg.Done(); c.HandleCallError("station-r", id, "GenericError", "", nil) }()
		go func() { defer wg.Done(); c.FailStation("station-r") }()
		wg.Wait()

		awaitOutcome(t, out)
		select {
		case extra := <-out:
			t.Fatalf("unexpected second resolution: %+v", extra)
		default:
		}
		assert.Equal(t, 0, c.Pending())
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
