package session

import (
	"sync"
	"time"
)

// Manager serializes event processing per chat so two updates from the same
// conversation never run at once. Different chats run in parallel.
type Manager struct {
	mu      sync.Mutex
	mutexes map[string]*chatLock
	queues  map[string]*chatQueue
}

// chatQueue holds the jobs of one chat that have not run yet. It exists
// only while its worker goroutine is draining it.
type chatQueue struct {
	jobs []func()
}

type chatLock struct {
	mu       sync.Mutex
	lastUsed time.Time
	holders  int
}

func NewManager() *Manager {
	return &Manager{
		mutexes: make(map[string]*chatLock),
		queues:  make(map[string]*chatQueue),
	}
}

// WithLock executes fn while holding the per-chat mutex.
func (m *Manager) WithLock(chat string, fn func()) {
	m.mu.Lock()
	cl, ok := m.mutexes[chat]
	if !ok {
		cl = &chatLock{}
		m.mutexes[chat] = cl
	}
	cl.holders++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		cl.holders--
		cl.lastUsed = time.Now()
		m.mu.Unlock()
	}()

	cl.mu.Lock()
	defer cl.mu.Unlock()
	fn()
}

// Submit queues fn to run in the background after every job previously
// submitted for the same chat. Jobs of different chats run in parallel.
func (m *Manager) Submit(chat string, fn func()) {
	m.mu.Lock()
	if q, ok := m.queues[chat]; ok {
		q.jobs = append(q.jobs, fn)
		m.mu.Unlock()
		return
	}
	q := &chatQueue{jobs: []func(){fn}}
	m.queues[chat] = q
	m.mu.Unlock()

	go m.drain(chat, q)
}

func (m *Manager) drain(chat string, q *chatQueue) {
	for {
		m.mu.Lock()
		if len(q.jobs) == 0 {
			delete(m.queues, chat)
			m.mu.Unlock()
			return
		}
		fn := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		m.mu.Unlock()

		fn()
	}
}

// Cleanup removes idle locks not used within maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := time.Now()
	for chat, cl := range m.mutexes {
		if cl.holders == 0 && now.Sub(cl.lastUsed) > maxAge {
			delete(m.mutexes, chat)
			removed++
		}
	}
	return removed
}

// Len reports how many chats currently have a lock entry.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mutexes)
}
