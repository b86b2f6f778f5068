package service

import (
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	maxDerivedDigits = 10
	randomIDCeiling  = 1_000_000
	randomIDAttempts = 64
)

// TransactionContext keeps runtime info for an allocated transaction id.
type TransactionContext struct {
	SessionID  string
	StationID  string
	MeterStart int64
	StartedAt  time.Time
}

// TransactionStore allocates OCPP transaction ids and remembers which session they belong
// to. An id is never handed out twice while it is in use.
type TransactionStore struct {
	mu        sync.RWMutex
	data      map[int64]TransactionContext
	bySession map[string]int64
	randInt   func(n int64) int64
}

// NewTransactionStore returns initialized store.
func NewTransactionStore() *TransactionStore {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rngMu sync.Mutex
	return &TransactionStore{
		data:      make(map[int64]TransactionContext),
		bySession: make(map[string]int64),
		randInt: func(n int64) int64 {
			rngMu.Lock()
			defer rngMu.Unlock()
			return rng.Int63n(n)
		},
	}
}

// Allocate returns the transaction id for txCtx.SessionID. The digits of the session id are
// used when they form a positive number of at most ten digits that is not taken; otherwise a
// random free id in [1, 1000000) is chosen. Allocating twice for one session returns the same id.
func (s *TransactionStore) Allocate(txCtx TransactionContext) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySession[txCtx.SessionID]; ok {
		return id
	}

	id, ok := derivedID(txCtx.SessionID)
	if !ok || s.taken(id) {
		id = s.randomFree()
	}
	s.data[id] = txCtx
	s.bySession[txCtx.SessionID] = id
	return id
}

func (s *TransactionStore) taken(id int64) bool {
	_, ok := s.data[id]
	return ok
}

func (s *TransactionStore) randomFree() int64 {
	for i := 0; i < randomIDAttempts; i++ {
		id := 1 + s.randInt(randomIDCeiling-1)
		if !s.taken(id) {
			return id
		}
	}
	// the random range is crowded, probe upwards past it
	id := int64(randomIDCeiling)
	for s.taken(id) {
		id++
	}
	return id
}

func derivedID(sessionID string) (int64, bool) {
	digits := make([]byte, 0, maxDerivedDigits)
	for i := 0; i < len(sessionID) && len(digits) < maxDerivedDigits; i++ {
		if c := sessionID[i]; c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Get returns context and bool.
func (s *TransactionStore) Get(txID int64) (TransactionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txCtx, ok := s.data[txID]
	return txCtx, ok
}

// ForSession returns the id allocated to the session.
func (s *TransactionStore) ForSession(sessionID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	return id, ok
}

// ReleaseSession frees the id allocated to the session.
func (s *TransactionStore) ReleaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySession[sessionID]; ok {
		delete(s.data, id)
		delete(s.bySession, sessionID)
	}
}

// Release frees txID when it belongs to stationID.
func (s *TransactionStore) Release(stationID string, txID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txCtx, ok := s.data[txID]
	if !ok || txCtx.StationID != stationID {
		return
	}
	delete(s.data, txID)
	delete(s.bySession, txCtx.SessionID)
}

// Len returns the number of ids in use.
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
