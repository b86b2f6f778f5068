package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ocpphub/backend/services/ocpp-server/internal/metrics"
)

const defaultCommandTimeout = 30 * time.Second

var idGenerator = uuid.NewString

// Sender writes a complete frame to a station connection.
type Sender interface {
	Send(frame []byte) error
}

// ConnectionLookup resolves the live connection of a station.
type ConnectionLookup interface {
	LookupSender(stationID string) (Sender, bool)
}

type commandResult struct {
	payload json.RawMessage
	err     error
}

type pendingCommand struct {
	id        string
	stationID string
	action    string
	sentAt    time.Time
	deadline  time.Time
	timer     *time.Timer
	result    chan commandResult
}

// resolve delivers the single result. Only the goroutine that removed the entry from the
// pending map may call it.
func (p *pendingCommand) resolve(res commandResult) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result <- res
}

// Correlator issues server initiated calls and matches station replies to them.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingCommand

	connections ConnectionLookup
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewCorrelator builds a correlator. A non-positive timeout falls back to 30s.
func NewCorrelator(connections ConnectionLookup, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		pending:     make(map[string]*pendingCommand),
		connections: connections,
		timeout:     timeout,
		logger:      logger,
		metrics:     m,
	}
}

// DefaultTimeout returns the timeout used when Issue receives a non-positive one.
func (c *Correlator) DefaultTimeout() time.Duration {
	return c.timeout
}

// Issue sends action to the station and blocks until the matching CallResult or CallError
// arrives, the deadline elapses, the station disconnects or ctx is canceled.
func (c *Correlator) Issue(ctx context.Context, stationID, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	conn, ok := c.connections.LookupSender(stationID)
	if !ok {
		return nil, ErrDeviceNotConnected
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	cmd := c.register(stationID, action, timeout)

	frame, err := BuildCall(cmd.id, action, payload)
	if err != nil {
		c.take(cmd.id, stationID)
		cmd.timer.Stop()
		return nil, err
	}

	if err := conn.Send(frame); err != nil {
		if c.take(cmd.id, stationID) != nil {
			cmd.timer.Stop()
			c.metrics.CommandResolved(action, metrics.OutcomeSendFailed, time.Since(cmd.sentAt))
		}
		return nil, err
	}
	c.logger.Debug("command sent",
		zap.String("station_id", stationID),
		zap.String("action", action),
		zap.String("message_id", cmd.id))

	select {
	case res := <-cmd.result:
		return res.payload, res.err
	case <-ctx.Done():
		if c.take(cmd.id, stationID) != nil {
			cmd.timer.Stop()
			c.metrics.CommandResolved(action, metrics.OutcomeCanceled, time.Since(cmd.sentAt))
			return nil, ctx.Err()
		}
		// a resolver won the race and is about to deliver
		res := <-cmd.result
		return res.payload, res.err
	}
}

func (c *Correlator) register(stationID, action string, timeout time.Duration) *pendingCommand {
	now := time.Now()
	cmd := &pendingCommand{
		stationID: stationID,
		action:    action,
		sentAt:    now,
		deadline:  now.Add(timeout),
		result:    make(chan commandResult, 1),
	}

	c.mu.Lock()
	for {
		id := idGenerator()
		if _, exists := c.pending[id]; !exists && id != "" {
			cmd.id = id
			break
		}
		c.logger.Warn("correlation id collision, regenerating", zap.String("message_id", id))
	}
	c.pending[cmd.id] = cmd
	// the timer is armed under the lock so resolve never observes a nil timer
	id := cmd.id
	cmd.timer = time.AfterFunc(timeout, func() { c.expire(id, stationID) })
	c.mu.Unlock()

	return cmd
}

// take removes and returns the pending command when it exists and belongs to stationID.
func (c *Correlator) take(id, stationID string) *pendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd, ok := c.pending[id]
	if !ok || cmd.stationID != stationID {
		return nil
	}
	delete(c.pending, id)
	return cmd
}

func (c *Correlator) expire(id, stationID string) {
	cmd := c.take(id, stationID)
	if cmd == nil {
		return
	}
	c.logger.Warn("command timed out",
		zap.String("station_id", stationID),
		zap.String("action", cmd.action),
		zap.String("message_id", id))
	c.metrics.CommandResolved(cmd.action, metrics.OutcomeTimeout, time.Since(cmd.sentAt))
	cmd.resolve(commandResult{err: ErrCommandTimeout})
}

// HandleCallResult resolves the pending command with the station's payload. Unknown ids are
// discarded.
func (c *Correlator) HandleCallResult(stationID, messageID string, payload json.RawMessage) {
	cmd := c.take(messageID, stationID)
	if cmd == nil {
		c.logger.Info("call result without pending command",
			zap.String("station_id", stationID),
			zap.String("message_id", messageID))
		return
	}
	c.logger.Debug("command completed",
		zap.String("station_id", stationID),
		zap.String("action", cmd.action),
		zap.String("message_id", messageID))
	c.metrics.CommandResolved(cmd.action, metrics.OutcomeAccepted, time.Since(cmd.sentAt))
	cmd.resolve(commandResult{payload: payload})
}

// HandleCallError rejects the pending command with a *RemoteError. Unknown ids are discarded.
func (c *Correlator) HandleCallError(stationID, messageID, code, description string, details map[string]interface{}) {
	cmd := c.take(messageID, stationID)
	if cmd == nil {
		c.logger.Info("call error without pending command",
			zap.String("station_id", stationID),
			zap.String("message_id", messageID),
			zap.String("error_code", code))
		return
	}
	c.logger.Warn("command failed",
		zap.String("station_id", stationID),
		zap.String("action", cmd.action),
		zap.String("message_id", messageID),
		zap.String("error_code", code),
		zap.String("description", description))
	c.metrics.CommandResolved(cmd.action, metrics.OutcomeRemoteError, time.Since(cmd.sentAt))
	cmd.resolve(commandResult{err: &RemoteError{Code: code, Description: description, Details: details}})
}

// FailStation rejects every command pending for stationID with ErrDeviceDisconnected and
// returns how many were failed.
func (c *Correlator) FailStation(stationID string) int {
	c.mu.Lock()
	var failed []*pendingCommand
	for id, cmd := range c.pending {
		if cmd.stationID == stationID {
			delete(c.pending, id)
			failed = append(failed, cmd)
		}
	}
	c.mu.Unlock()

	for _, cmd := range failed {
		c.metrics.CommandResolved(cmd.action, metrics.OutcomeDisconnected, time.Since(cmd.sentAt))
		cmd.resolve(commandResult{err: ErrDeviceDisconnected})
	}
	if len(failed) > 0 {
		c.logger.Info("failed pending commands on disconnect",
			zap.String("station_id", stationID),
			zap.Int("count", len(failed)))
	}
	return len(failed)
}

// Pending returns the number of in-flight commands.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// IsRemoteError reports whether err carries a station CallError.
func IsRemoteError(err error) (*RemoteError, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote, true
	}
	return nil, false
}
