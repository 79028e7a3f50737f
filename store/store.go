// Package store owns the in-memory indices and the lock that guards them.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"carestore/deepsize"
	"carestore/persist"
	"carestore/store/index"
)

// ErrPersist is wrapped by every error caused by a failed gateway
// notification. The in-memory state is unchanged when it is returned.
var ErrPersist = errors.New("persistence failed")

// DefaultGatewayTimeout bounds each gateway notification unless
// SetGatewayTimeout says otherwise.
const DefaultGatewayTimeout = 5 * time.Second

// Store is the record store. Every index is owned by the Store and only
// reachable through its methods.
//
// Concurrency: a sync.RWMutex provides single-writer / multi-reader
// access. Mutations take the write lock; lookups and scans take the read
// lock. Persisted mutations notify the gateway before touching memory,
// inside the same critical section, bounded by the gateway timeout.
type Store struct {
	mu           sync.RWMutex
	users        *index.AVL
	sessions     *index.HashIndex
	appointments *index.BST[persist.Appointment]
	history      *index.BST[string]
	emergency    *index.PriorityQueue

	gateway        persist.Gateway
	gatewayTimeout time.Duration
	logger         *slog.Logger
}

// New creates an empty Store. A nil gateway stores nothing; a
// non-positive sessionBuckets uses index.DefaultBuckets.
func New(gateway persist.Gateway, sessionBuckets int, logger *slog.Logger) *Store {
	if gateway == nil {
		gateway = persist.Nop{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		users:          index.NewAVL(),
		sessions:       index.NewHashIndex(sessionBuckets),
		appointments:   index.NewBST[persist.Appointment](),
		history:        index.NewBST[string](),
		emergency:      index.NewPriorityQueue(),
		gateway:        gateway,
		gatewayTimeout: DefaultGatewayTimeout,
		logger:         logger,
	}
}

// SetGatewayTimeout changes how long a mutation may wait on the gateway
// while the write lock is held. Zero or less removes the bound. Call it
// before the Store is shared.
func (s *Store) SetGatewayTimeout(d time.Duration) {
	s.gatewayTimeout = d
}

// Load bulk-loads everything the gateway has recorded. Users go in
// first, then appointments, then history, each in snapshot order so
// later records overwrite earlier ones.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.gateway.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range snap.Users {
		s.users.Upsert(u.Username, u.ID)
	}
	for _, a := range snap.Appointments {
		s.appointments.Upsert(a.ID, a)
	}
	for _, h := range snap.History {
		s.history.Upsert(h.ID, h.Payload)
	}
	s.logger.Info("store loaded",
		"users", s.users.Len(),
		"appointments", s.appointments.Len(),
		"history", s.history.Len(),
	)
	return nil
}

// notify hands m to the gateway. Callers hold the write lock.
func (s *Store) notify(ctx context.Context, m persist.Mutation) error {
	if s.gatewayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gatewayTimeout)
		defer cancel()
	}
	if err := s.gateway.OnMutation(ctx, m); err != nil {
		s.logger.Error("gateway notification failed", "kind", m.Kind, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPersist, m.Kind, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Users
// -------------------------------------------------------------------------

// Register records username -> id, replacing any previous id.
func (s *Store) Register(ctx context.Context, username string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notify(ctx, persist.UserMutation(persist.User{Username: username, ID: id})); err != nil {
		return err
	}
	s.users.Upsert(username, id)
	return nil
}

// FindUser returns the id registered for username.
func (s *Store) FindUser(username string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users.Find(username)
}

// -------------------------------------------------------------------------
// Sessions
// -------------------------------------------------------------------------

// PutSession binds token to userID. Sessions are not persisted.
func (s *Store) PutSession(token string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Put(token, userID)
}

// Session returns the user bound to token.
func (s *Store) Session(token string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Get(token)
}

// -------------------------------------------------------------------------
// Appointments
// -------------------------------------------------------------------------

// InsertAppointment stores a under a.ID, replacing any previous one.
func (s *Store) InsertAppointment(ctx context.Context, a persist.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notify(ctx, persist.AppointmentMutation(a)); err != nil {
		return err
	}
	s.appointments.Upsert(a.ID, a)
	return nil
}

// AppointmentsByUser returns userID's appointments in ascending id order.
func (s *Store) AppointmentsByUser(userID int64) []persist.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persist.Appointment
	for _, a := range s.appointments.All() {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}

// -------------------------------------------------------------------------
// History
// -------------------------------------------------------------------------

// InsertHistory stores payload under id, replacing any previous record.
func (s *Store) InsertHistory(ctx context.Context, id int64, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.notify(ctx, persist.HistoryMutation(persist.History{ID: id, Payload: payload})); err != nil {
		return err
	}
	s.history.Upsert(id, payload)
	return nil
}

// HistoryByUser returns the records whose payload starts with the
// decimal userID followed by ':' (or is exactly that id), in ascending
// id order.
func (s *Store) HistoryByUser(userID int64) []persist.History {
	owner := strconv.FormatInt(userID, 10)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persist.History
	for id, payload := range s.history.All() {
		first, _, _ := strings.Cut(payload, ":")
		if first == owner {
			out = append(out, persist.History{ID: id, Payload: payload})
		}
	}
	return out
}

// -------------------------------------------------------------------------
// Emergency queue
// -------------------------------------------------------------------------

// PushEmergency queues name at priority. Lower priorities pop first.
func (s *Store) PushEmergency(priority int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emergency.Push(priority, name)
}

// PopEmergency removes and returns the most urgent entry.
func (s *Store) PopEmergency() (index.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergency.Pop()
}

// EmergencySize reports the number of queued entries.
func (s *Store) EmergencySize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency.Len()
}

// -------------------------------------------------------------------------
// Stats
// -------------------------------------------------------------------------

// Stats is a point-in-time count of every collection.
type Stats struct {
	Users        int
	Sessions     int
	Appointments int
	History      int
	Emergency    int
}

// Stats returns the current collection sizes, taken under one read lock.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Users:        s.users.Len(),
		Sessions:     s.sessions.Len(),
		Appointments: s.appointments.Len(),
		History:      s.history.Len(),
		Emergency:    s.emergency.Len(),
	}
}

// MemoryInfo is the estimated footprint of one collection's index.
type MemoryInfo struct {
	Collection string
	Structure  string
	Bytes      int64
}

// MemoryUsage walks every index and estimates its size. It holds the
// read lock for the whole walk, so it is proportional to the data held
// and meant for diagnostics rather than hot paths.
func (s *Store) MemoryUsage() []MemoryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []MemoryInfo{
		{"users", "avl", deepsize.Of(s.users)},
		{"sessions", "hash", deepsize.Of(s.sessions)},
		{"appointments", "bst", deepsize.Of(s.appointments)},
		{"history", "bst", deepsize.Of(s.history)},
		{"emergency", "heap", deepsize.Of(s.emergency)},
	}
}
