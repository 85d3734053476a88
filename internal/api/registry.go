package api

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/chat"
	"github.com/kalambet/sentinelx/internal/monitor"
	"github.com/kalambet/sentinelx/internal/router"
	"github.com/kalambet/sentinelx/internal/schedule"
	"github.com/kalambet/sentinelx/internal/session"
	"github.com/kalambet/sentinelx/internal/storage"
)

// ErrSessionNotFound is returned for ids that are neither live nor stored.
var ErrSessionNotFound = errors.New("session not found")

// SessionOptions are applied to every session the registry creates or reloads.
type SessionOptions struct {
	Catalog     *catalog.Catalog
	Delays      *router.Delays
	Monitor     *monitor.Config // nil disables the link simulation
	DefaultPage string
	Rand        chat.Rand
	Logger      *slog.Logger

	// NewScheduler returns the scheduler for a new session. Nil gives each
	// session its own wall-clock scheduler.
	NewScheduler func() schedule.Scheduler
}

// Registry holds live sessions in a TTL cache. Sessions that expire are
// closed; their state stays in the store and is reloaded on next use.
type Registry struct {
	store *storage.Store
	opts  SessionOptions
	ttl   time.Duration
	live  *cache.Cache
	rec   *storeRecorder

	mu sync.Mutex // serializes create and reload
}

// NewRegistry creates a registry. A ttl of zero or less keeps sessions live
// until Close.
func NewRegistry(store *storage.Store, opts SessionOptions, ttl time.Duration) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cleanup := ttl / 2
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	r := &Registry{
		store: store,
		opts:  opts,
		ttl:   ttl,
		live:  cache.New(ttl, cleanup),
		rec:   &storeRecorder{store: store, logger: opts.Logger},
	}
	r.live.OnEvicted(func(id string, v any) {
		v.(*chat.Session).Close()
		r.opts.Logger.Debug("session evicted", "session", id)
	})
	return r
}

// Create starts and persists a new session.
func (r *Registry) Create() (*chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := session.Default()
	if r.opts.DefaultPage != "" {
		st.Page = r.opts.DefaultPage
	}
	s, err := chat.New(r.sessionOptions("", &st, nil, nil))
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveSession(toStoredSession(s.ID(), st)); err != nil {
		s.Close()
		return nil, fmt.Errorf("saving session: %w", err)
	}
	r.live.Set(s.ID(), s, cache.DefaultExpiration)
	r.opts.Logger.Info("session created", "session", s.ID())
	return s, nil
}

// Get returns the live session with id, reloading it from the store when it
// is not in the cache. Each hit extends the session's lifetime.
func (r *Registry) Get(id string) (*chat.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.live.Get(id); ok {
		s := v.(*chat.Session)
		r.live.Set(id, s, cache.DefaultExpiration)
		return s, nil
	}
	// Close an expired instance before a fresh one takes its place.
	r.live.DeleteExpired()

	s, err := r.load(id)
	if err != nil {
		return nil, err
	}
	r.live.Set(id, s, cache.DefaultExpiration)
	r.opts.Logger.Info("session reloaded", "session", id)
	return s, nil
}

func (r *Registry) load(id string) (*chat.Session, error) {
	stored, err := r.store.GetSession(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	scale, err := session.ParseScale(stored.Scale)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	st := session.State{
		AgentActive:     stored.AgentActive,
		CLIFallback:     stored.CLIFallback,
		DiscoveryActive: stored.DiscoveryActive,
		ScanningActive:  stored.ScanningActive,
		Scale:           scale,
		Page:            stored.Page,
	}

	storedRanges, err := r.store.GetRanges(id)
	if err != nil {
		return nil, fmt.Errorf("loading ranges: %w", err)
	}
	ranges := make([]catalog.IPRange, len(storedRanges))
	for i, sr := range storedRanges {
		ranges[i] = fromStoredRange(sr)
	}

	storedMsgs, err := r.store.GetMessages(id, historyReloadLimit)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	history := make([]chat.Message, len(storedMsgs))
	for i, m := range storedMsgs {
		history[i] = fromStoredMessage(m)
	}

	return chat.New(r.sessionOptions(id, &st, ranges, history))
}

// historyReloadLimit matches the number of messages a trimmed history keeps.
const historyReloadLimit = 50

func (r *Registry) sessionOptions(id string, st *session.State, ranges []catalog.IPRange, history []chat.Message) chat.Options {
	opts := chat.Options{
		ID:       id,
		Catalog:  r.opts.Catalog,
		Rand:     r.opts.Rand,
		Delays:   r.opts.Delays,
		Monitor:  r.opts.Monitor,
		Recorder: r.rec,
		Logger:   r.opts.Logger,
		State:    st,
		Ranges:   ranges,
		History:  history,
	}
	if r.opts.NewScheduler != nil {
		opts.Scheduler = r.opts.NewScheduler()
	}
	return opts
}

// Purge closes a session and deletes everything stored for it.
func (r *Registry) Purge(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live.Delete(id)
	if err := r.store.DeleteSession(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	return nil
}

// Reset returns a session to its initial state and clears its stored history.
func (r *Registry) Reset(s *chat.Session) error {
	s.Reset()
	return r.store.ClearMessages(s.ID())
}

// Live reports how many sessions are held in memory.
func (r *Registry) Live() int {
	return r.live.ItemCount()
}

// Close closes every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.live.Items() {
		r.live.Delete(id)
	}
}

// storeRecorder persists session output. Write failures are logged; the
// conversation carries on in memory.
type storeRecorder struct {
	store  *storage.Store
	logger *slog.Logger
}

func (s *storeRecorder) RecordMessage(sessionID string, m chat.Message) {
	err := s.store.SaveMessage(storage.Message{
		ID:        m.ID,
		SessionID: sessionID,
		Role:      string(m.Role),
		Text:      m.Text,
		Topic:     string(m.Topic),
		Persona:   string(m.Persona),
		CreatedAt: m.At,
	})
	if err != nil {
		s.logger.Warn("failed to save message", "session", sessionID, "error", err)
	}
}

func (s *storeRecorder) RecordState(sessionID string, st session.State, ranges []catalog.IPRange) {
	if err := s.store.SaveSession(toStoredSession(sessionID, st)); err != nil {
		s.logger.Warn("failed to save session", "session", sessionID, "error", err)
		return
	}
	stored := make([]storage.IPRange, len(ranges))
	for i, cr := range ranges {
		stored[i] = toStoredRange(sessionID, cr)
	}
	if err := s.store.ReplaceRanges(sessionID, stored); err != nil {
		s.logger.Warn("failed to save ranges", "session", sessionID, "error", err)
	}
}

func toStoredSession(id string, st session.State) storage.Session {
	return storage.Session{
		ID:              id,
		AgentActive:     st.AgentActive,
		CLIFallback:     st.CLIFallback,
		DiscoveryActive: st.DiscoveryActive,
		ScanningActive:  st.ScanningActive,
		Scale:           string(st.Scale),
		Page:            st.Page,
	}
}

func toStoredRange(sessionID string, r catalog.IPRange) storage.IPRange {
	return storage.IPRange{
		ID:              r.ID,
		SessionID:       sessionID,
		Name:            r.Name,
		CIDR:            r.CIDR,
		Location:        r.Location,
		Organization:    r.Organization,
		Status:          r.Status,
		Devices:         r.Devices,
		Services:        r.Services,
		Vulnerabilities: r.Vulnerabilities,
		Bandwidth:       r.Bandwidth,
	}
}

func fromStoredRange(r storage.IPRange) catalog.IPRange {
	return catalog.IPRange{
		ID:              r.ID,
		Name:            r.Name,
		CIDR:            r.CIDR,
		Location:        r.Location,
		Organization:    r.Organization,
		Status:          r.Status,
		Devices:         r.Devices,
		Services:        r.Services,
		Vulnerabilities: r.Vulnerabilities,
		Bandwidth:       r.Bandwidth,
	}
}

func fromStoredMessage(m storage.Message) chat.Message {
	return chat.Message{
		ID:      m.ID,
		Role:    chat.Role(m.Role),
		Text:    m.Text,
		Topic:   router.Topic(m.Topic),
		Persona: router.Persona(m.Persona),
		At:      m.CreatedAt,
	}
}
