package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	bolt "go.etcd.io/bbolt"
)

var bucket = []byte("tasks")

var ErrTaskNotFound = errors.New("no task found for the given key")

// In-Memory Thread-Safe task result store. Every write goes through to
// bolt when a database is attached, and is broadcast to the subscribers
// of that task.
type Store struct {
	mu    sync.RWMutex
	table map[string]TaskState
	db    *bolt.DB

	bus    EventBus.Bus
	subsMu sync.Mutex
	subs   map[string]map[string]struct{}
	seq    uint64
}

func NewStore(db *bolt.DB) (*Store, error) {
	if db != nil {
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucket)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return &Store{
		table: make(map[string]TaskState),
		db:    db,
		bus:   EventBus.New(),
		subs:  make(map[string]map[string]struct{}),
	}, nil
}

func (s *Store) Get(id string) (TaskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.table[id]
	if !ok {
		return TaskState{}, ErrTaskNotFound
	}
	return state, nil
}

func (s *Store) Set(state TaskState) error {
	state.UpdatedAt = time.Now()

	s.mu.Lock()
	s.table[state.ID] = state
	s.mu.Unlock()

	if err := s.persist(state); err != nil {
		return err
	}

	s.publish(state)
	return nil
}

// Update applies fn to the stored state of id.
func (s *Store) Update(id string, fn func(*TaskState)) (TaskState, error) {
	s.mu.Lock()
	state, ok := s.table[id]
	if !ok {
		s.mu.Unlock()
		return TaskState{}, ErrTaskNotFound
	}
	fn(&state)
	state.ID = id
	state.UpdatedAt = time.Now()
	s.table[id] = state
	s.mu.Unlock()

	if err := s.persist(state); err != nil {
		return state, err
	}

	s.publish(state)
	return state, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.table, id)
	s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.table))
	for id := range s.table {
		keys = append(keys, id)
	}
	return keys
}

func (s *Store) All() []TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]TaskState, 0, len(s.table))
	for _, v := range s.table {
		all = append(all, v)
	}
	return all
}

// CountByStatus is used by the status endpoint.
func (s *Store) CountByStatus() map[TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[TaskStatus]int)
	for _, v := range s.table {
		counts[v.Status]++
	}
	return counts
}

func (s *Store) persist(state TaskState) error {
	if s.db == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(state.ID), data)
	})
}

// Restore loads the persisted tasks. Tasks that were still queued or
// running belong to a dead process: they are marked as failed and
// returned.
func (s *Store) Restore() ([]TaskState, error) {
	if s.db == nil {
		return nil, nil
	}

	var restored []TaskState

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var state TaskState
			if err := json.Unmarshal(v, &state); err != nil {
				slog.Warn("skipping corrupted task", slog.String("id", string(k)), slog.Any("err", err))
				return nil
			}
			restored = append(restored, state)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var stale []TaskState

	s.mu.Lock()
	for _, state := range restored {
		if !state.Status.Done() {
			state.Status = TaskFailure
			state.Info.Error = "interrupted by a restart"
			state.UpdatedAt = time.Now()
			stale = append(stale, state)
		}
		s.table[state.ID] = state
	}
	s.mu.Unlock()

	for _, state := range stale {
		if err := s.persist(state); err != nil {
			return stale, err
		}
	}

	slog.Info("restored task results",
		slog.Int("total", len(restored)),
		slog.Int("stale", len(stale)),
	)

	return stale, nil
}

func taskTopic(id string) string { return "task:" + id }

// Subscribe returns a channel receiving every new state of the task id.
// Slow receivers miss intermediate states. The returned function must be
// called to release the subscription.
func (s *Store) Subscribe(id string) (<-chan TaskState, func()) {
	ch := make(chan TaskState, 8)

	// EventBus tells closures apart by code pointer only, so every
	// subscriber gets a topic of its own
	s.subsMu.Lock()
	s.seq++
	topic := fmt.Sprintf("%s#%d", taskTopic(id), s.seq)
	if s.subs[id] == nil {
		s.subs[id] = make(map[string]struct{})
	}
	s.subs[id][topic] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	closed := false
	var chMu sync.Mutex

	handler := func(state TaskState) {
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- state:
		default:
		}
	}

	if err := s.bus.Subscribe(topic, handler); err != nil {
		slog.Error("failed to subscribe", slog.String("topic", topic), slog.Any("err", err))
	}

	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs[id], topic)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
			s.subsMu.Unlock()

			s.bus.Unsubscribe(topic, handler)

			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}

	return ch, cancel
}

func (s *Store) publish(state TaskState) {
	s.subsMu.Lock()
	topics := make([]string, 0, len(s.subs[state.ID]))
	for t := range s.subs[state.ID] {
		topics = append(topics, t)
	}
	s.subsMu.Unlock()

	for _, t := range topics {
		s.bus.Publish(t, state)
	}
}
