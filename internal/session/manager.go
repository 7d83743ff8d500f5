package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-dev/overseer/internal/buffer"
)

// Options configures a new session.
type Options struct {
	Goal        string
	ToolID      string
	ProcessName string
	Provider    string
	AutoAction  bool
	BufferSize  int
}

// Manager owns the set of live sessions.
type Manager struct {
	sessions sync.Map // map[string]*Session
	mu       sync.Mutex
	count    int
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{}
}

// Create attaches a new session and returns it.
func (m *Manager) Create(opts Options) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Goal:        opts.Goal,
		ToolID:      opts.ToolID,
		ProcessName: opts.ProcessName,
		Provider:    opts.Provider,
		CreatedAt:   time.Now(),
		Buffer:      buffer.New(opts.BufferSize),
	}
	s.SetAutoAction(opts.AutoAction)

	m.sessions.Store(s.ID, s)
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// Delete detaches a session. The caller stops its scheduler task and
// terminal first; any in-flight analysis result is discarded.
func (m *Manager) Delete(id string) (*Session, error) {
	value, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	m.mu.Lock()
	m.count--
	m.mu.Unlock()
	return value.(*Session), nil
}

// List returns info for every live session.
func (m *Manager) List() []Info {
	var out []Info
	m.sessions.Range(func(_, value interface{}) bool {
		out = append(out, value.(*Session).Info())
		return true
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}
