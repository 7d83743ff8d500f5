package provider

import (
	"sync"
	"time"
)

// Status is the health of one provider. Transitions are monotonic under
// consecutive failures (healthy → degraded → failed) and only a successful
// call or a manual reset moves a provider back to healthy.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HealthSettings configures degradation thresholds and the recovery backoff
// schedule shared by all providers.
type HealthSettings struct {
	// DegradedAfter is the consecutive-error count that marks a provider
	// degraded.
	DegradedAfter int
	// FailedAfter is the consecutive-error count that marks a provider
	// failed and starts the recovery backoff.
	FailedAfter int
	// BackoffBase is the first recovery delay after entering failed.
	BackoffBase time.Duration
	// BackoffMax caps the exponential recovery delay.
	BackoffMax time.Duration
	// OnStateChange is invoked outside the health lock whenever a
	// provider's status transitions.
	OnStateChange func(name string, from, to Status)
}

func (s HealthSettings) withDefaults() HealthSettings {
	if s.DegradedAfter <= 0 {
		s.DegradedAfter = 2
	}
	if s.FailedAfter <= s.DegradedAfter {
		s.FailedAfter = s.DegradedAfter + 1
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = 30 * time.Second
	}
	if s.BackoffMax < s.BackoffBase {
		s.BackoffMax = 10 * time.Minute
	}
	return s
}

// HealthSnapshot is a point-in-time copy of one provider's health for the
// API and UI layers.
type HealthSnapshot struct {
	Name                     string    `json:"name"`
	Status                   string    `json:"status"`
	ConsecutiveErrors        int       `json:"consecutive_errors"`
	ConsecutiveNetworkErrors int       `json:"consecutive_network_errors"`
	LastError                string    `json:"last_error,omitempty"`
	LastSuccessTime          time.Time `json:"last_success_time,omitzero"`
	NextRecoveryCheck        time.Time `json:"next_recovery_check,omitzero"`
}

// Health tracks one provider's availability. It is shared process-wide by
// every session using that provider; all mutation happens under the mutex
// so concurrent failures from different sessions cannot double-count past
// the thresholds.
type Health struct {
	mu       sync.Mutex
	name     string
	settings HealthSettings

	status                   Status
	consecutiveErrors        int
	consecutiveNetworkErrors int
	lastError                string
	lastSuccess              time.Time
	nextRecoveryCheck        time.Time
	probeInFlight            bool

	now func() time.Time // injectable clock for tests
}

// Allow reports whether a call to the provider may proceed. While the
// provider is failed it returns false until the recovery check elapses, at
// which point exactly one caller is granted a probe (probe=true) and all
// others keep getting false until that probe resolves.
func (h *Health) Allow() (ok bool, probe bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusFailed {
		return true, false
	}
	if h.probeInFlight || h.now().Before(h.nextRecoveryCheck) {
		return false, false
	}
	h.probeInFlight = true
	return true, true
}

// RecordSuccess resets error counters and restores the provider to healthy.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	from := h.status
	h.status = StatusHealthy
	h.consecutiveErrors = 0
	h.consecutiveNetworkErrors = 0
	h.lastError = ""
	h.lastSuccess = h.now()
	h.nextRecoveryCheck = time.Time{}
	h.probeInFlight = false
	h.mu.Unlock()

	h.notify(from, StatusHealthy)
}

// RecordFailure counts a failed call and advances the status machine. The
// recovery check is pushed out on a bounded exponential schedule keyed to
// how far past the failure threshold the provider is.
func (h *Health) RecordFailure(err error) {
	kind := KindOf(err)

	h.mu.Lock()
	from := h.status
	h.probeInFlight = false
	h.consecutiveErrors++
	if kind == KindNetwork {
		h.consecutiveNetworkErrors++
	}
	if err != nil {
		h.lastError = err.Error()
	}

	switch {
	case h.consecutiveErrors >= h.settings.FailedAfter:
		h.status = StatusFailed
	case h.consecutiveErrors >= h.settings.DegradedAfter:
		// Never regress failed → degraded on a failure.
		if h.status != StatusFailed {
			h.status = StatusDegraded
		}
	}

	if h.status == StatusFailed {
		shift := h.consecutiveErrors - h.settings.FailedAfter
		backoff := h.settings.BackoffBase
		for i := 0; i < shift; i++ {
			backoff *= 2
			if backoff >= h.settings.BackoffMax {
				backoff = h.settings.BackoffMax
				break
			}
		}
		h.nextRecoveryCheck = h.now().Add(backoff)
	}
	to := h.status
	h.mu.Unlock()

	h.notify(from, to)
}

// Reset clears all error state, used for a manual retry from the operator.
func (h *Health) Reset() {
	h.mu.Lock()
	from := h.status
	h.status = StatusHealthy
	h.consecutiveErrors = 0
	h.consecutiveNetworkErrors = 0
	h.lastError = ""
	h.nextRecoveryCheck = time.Time{}
	h.probeInFlight = false
	h.mu.Unlock()

	h.notify(from, StatusHealthy)
}

// Status returns the current status.
func (h *Health) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// NextRecoveryCheck returns when the next probe becomes eligible.
func (h *Health) NextRecoveryCheck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextRecoveryCheck
}

// Snapshot copies the current state.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Name:                     h.name,
		Status:                   h.status.String(),
		ConsecutiveErrors:        h.consecutiveErrors,
		ConsecutiveNetworkErrors: h.consecutiveNetworkErrors,
		LastError:                h.lastError,
		LastSuccessTime:          h.lastSuccess,
		NextRecoveryCheck:        h.nextRecoveryCheck,
	}
}

func (h *Health) notify(from, to Status) {
	if from != to && h.settings.OnStateChange != nil {
		h.settings.OnStateChange(h.name, from, to)
	}
}

// HealthRegistry owns one Health per provider name. Health objects live for
// the process lifetime; they are never per-session.
type HealthRegistry struct {
	mu       sync.RWMutex
	settings HealthSettings
	byName   map[string]*Health
}

// NewHealthRegistry creates a registry with the given settings.
func NewHealthRegistry(settings HealthSettings) *HealthRegistry {
	return &HealthRegistry{
		settings: settings.withDefaults(),
		byName:   make(map[string]*Health),
	}
}

// Get returns the health tracker for a provider, creating it on first use.
func (r *HealthRegistry) Get(name string) *Health {
	r.mu.RLock()
	h, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byName[name]; ok {
		return h
	}
	h = &Health{
		name:     name,
		settings: r.settings,
		status:   StatusHealthy,
		now:      time.Now,
	}
	r.byName[name] = h
	return h
}

// Snapshots returns the state of every tracked provider.
func (r *HealthRegistry) Snapshots() []HealthSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HealthSnapshot, 0, len(r.byName))
	for _, h := range r.byName {
		out = append(out, h.Snapshot())
	}
	return out
}
