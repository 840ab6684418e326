package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coreagent/loopcore/internal/statuscode"
)

// Sentinel errors returned by Manager methods.
var (
	ErrApprovalRequired = errors.New("tool call requires approval")
	ErrDenied           = errors.New("tool call was denied")
	ErrExpired          = errors.New("approval request expired before a decision was made")
	ErrPending          = errors.New("approval request is still pending")
	ErrNotFound         = errors.New("approval request not found")
)

// Request is one pending-or-decided approval.
type Request struct {
	ID          string
	ToolName    string
	Fingerprint Fingerprint
	Args        map[string]any
	Risk        RiskLevel
	SessionID   string
	RequestedAt time.Time
	ExpiresAt   time.Time
	Status      Status
	DecidedAt   time.Time
	DenialCode  statuscode.Code
	DenialNote  string
}

// RiskPolicy controls the default disposition for one risk tier.
type RiskPolicy struct {
	RequireApproval bool
	// MaxAutoRemembered caps how many distinct fingerprints at this risk
	// level may be auto-approved via Remember in one session; 0 means
	// unlimited. Prevents a careless "always allow" from silently covering
	// an unbounded set of distinct destructive calls.
	MaxAutoRemembered int
}

// Policy maps each RiskLevel to a RiskPolicy plus a request timeout.
type Policy struct {
	ByRisk  map[RiskLevel]RiskPolicy
	Timeout time.Duration // default 5 minutes
}

// DefaultPolicy is the stock tiering: low/medium risk calls run
// unattended, high/critical calls always prompt.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: 5 * time.Minute,
		ByRisk: map[RiskLevel]RiskPolicy{
			RiskLow:      {RequireApproval: false},
			RiskMedium:   {RequireApproval: false, MaxAutoRemembered: 20},
			RiskHigh:     {RequireApproval: true, MaxAutoRemembered: 5},
			RiskCritical: {RequireApproval: true},
		},
	}
}

// Manager is the approval decision engine: it classifies whether a call
// needs a prompt, tracks pending requests, and remembers prior "always
// allow" decisions per session.
type Manager struct {
	mu       sync.Mutex
	policy   Policy
	requests map[string]*Request
	// remembered maps sessionID -> fingerprint -> count of times it has
	// been auto-approved, so MaxAutoRemembered can be enforced.
	remembered map[string]map[Fingerprint]int

	onRequired func(*Request)
}

// New creates a Manager under policy. A zero-value Policy is invalid; use
// DefaultPolicy() unless the caller has its own tiers.
func New(policy Policy) *Manager {
	return &Manager{
		policy:     policy,
		requests:   make(map[string]*Request),
		remembered: make(map[string]map[Fingerprint]int),
	}
}

// OnRequired registers a callback invoked synchronously whenever a new
// Request enters StatusPending, e.g. to push it onto the event bus.
func (m *Manager) OnRequired(fn func(*Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequired = fn
}

// Check classifies a tool call and either auto-approves it (returning nil)
// or creates a pending Request and returns ErrApprovalRequired along with
// the Request so the caller can surface it and later call Decide.
func (m *Manager) Check(sessionID, toolName string, args map[string]any, risk RiskLevel) (*Request, error) {
	fp := Compute(toolName, args)

	m.mu.Lock()
	defer m.mu.Unlock()

	rp := m.policy.ByRisk[risk]
	if !rp.RequireApproval {
		return nil, nil
	}

	if m.isRemembered(sessionID, fp) {
		return &Request{
			ToolName:    toolName,
			Fingerprint: fp,
			Risk:        risk,
			SessionID:   sessionID,
			Status:      StatusApprovedRemembered,
		}, nil
	}

	now := time.Now()
	req := &Request{
		ID:          uuid.NewString(),
		ToolName:    toolName,
		Fingerprint: fp,
		Args:        args,
		Risk:        risk,
		SessionID:   sessionID,
		RequestedAt: now,
		ExpiresAt:   now.Add(m.timeout()),
		Status:      StatusPending,
	}
	m.requests[req.ID] = req

	if m.onRequired != nil {
		m.onRequired(req)
	}

	return req, ErrApprovalRequired
}

func (m *Manager) timeout() time.Duration {
	if m.policy.Timeout <= 0 {
		return 5 * time.Minute
	}
	return m.policy.Timeout
}

// isRemembered reports whether fp has already been approved-and-remembered
// for sessionID. Caller must hold m.mu.
func (m *Manager) isRemembered(sessionID string, fp Fingerprint) bool {
	session, ok := m.remembered[sessionID]
	if !ok {
		return false
	}
	_, ok = session[fp]
	return ok
}

// Approve marks a pending request decided, optionally adding its
// fingerprint to the session's remembered-allow set. Remembering is capped
// by the risk tier's MaxAutoRemembered; once the cap is hit, remember is
// silently ignored for that tier (the call is still approved this once).
func (m *Manager) Approve(requestID string, remember bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return ErrDenied
	}
	if time.Now().After(req.ExpiresAt) {
		req.Status = StatusExpired
		return ErrExpired
	}

	req.Status = StatusApproved
	req.DecidedAt = time.Now()

	if remember {
		rp := m.policy.ByRisk[req.Risk]
		session := m.remembered[req.SessionID]
		if session == nil {
			session = make(map[Fingerprint]int)
			m.remembered[req.SessionID] = session
		}
		if rp.MaxAutoRemembered == 0 || len(session) < rp.MaxAutoRemembered {
			session[req.Fingerprint] = 1
		}
	}

	return nil
}

// Deny marks a pending request denied with a status code and human-readable
// note explaining why.
func (m *Manager) Deny(requestID string, code statuscode.Code, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return ErrDenied
	}

	req.Status = StatusDenied
	req.DecidedAt = time.Now()
	req.DenialCode = code
	req.DenialNote = note
	return nil
}

// Get returns the current state of a request.
func (m *Manager) Get(requestID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return req, nil
}

// Wait blocks until requestID is decided (approved or denied), ctx is
// cancelled, or the request expires, polling every 100ms.
func (m *Manager) Wait(ctx context.Context, requestID string) (*Request, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := m.Get(requestID)
		if err != nil {
			return nil, err
		}
		switch req.Status {
		case StatusApproved, StatusApprovedRemembered:
			return req, nil
		case StatusDenied:
			return req, ErrDenied
		case StatusExpired:
			return req, ErrExpired
		}

		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListPending returns all requests currently awaiting a decision.
func (m *Manager) ListPending() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, 0)
	for _, req := range m.requests {
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out
}

// ExpirePastDeadline sweeps pending requests whose ExpiresAt has passed,
// marking them StatusExpired. Intended to run on a periodic tick alongside
// the agent loop.
func (m *Manager) ExpirePastDeadline() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	count := 0
	for _, req := range m.requests {
		if req.Status == StatusPending && now.After(req.ExpiresAt) {
			req.Status = StatusExpired
			count++
		}
	}
	return count
}

// ResetSessionMemory clears every remembered fingerprint for sessionID,
// used when a session ends or the user explicitly revokes prior approvals.
func (m *Manager) ResetSessionMemory(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.remembered, sessionID)
}
