// Package chat drives one conversation with the simulated agent. A Session
// owns the session state, the router, the network inventory and the link
// monitor, and plays reply transcripts out through a scheduler so that
// typing and hand-off delays are observable.
package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/monitor"
	"github.com/kalambet/sentinelx/internal/network"
	"github.com/kalambet/sentinelx/internal/router"
	"github.com/kalambet/sentinelx/internal/schedule"
	"github.com/kalambet/sentinelx/internal/session"
)

const (
	// History is cut back to historyKeep entries once it grows past historyMax.
	historyMax  = 100
	historyKeep = 50

	rangeNoticeDelay  = time.Second
	detailDelay       = 300 * time.Millisecond
	rescanFinishDelay = 500 * time.Millisecond
)

const (
	msgLinkLost     = `⚠️ Main Agent connection lost. Switching to CLI fallback mode. Type "help" for available commands.`
	msgLinkRestored = "✅ Main Agent connection restored. Autonomous mode resumed."
	msgLinkGaveUp   = `⚠️ Main Agent unreachable after %d reconnect attempts. CLI fallback mode remains active. Type "enable agent" to retry.`
	msgAgentToggled = "⚠️ Main Agent has %s. CLI mode available if external connections fail."
	msgRescanStart  = "🔄 Infrastructure rescan initiated..."
	msgRescanDone   = "✅ Network discovery reset complete. Environment detection reinitialized. Please select your infrastructure scale to continue."
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// rescanStages are posted at fixed offsets from the start of a rescan. The
// last stage also resets the inventory.
var rescanStages = []struct {
	at   time.Duration
	text string
}{
	{500 * time.Millisecond, "NetworkMapper: Stopping current discovery processes..."},
	{1200 * time.Millisecond, "NetworkMapper: Clearing discovery cache and resetting configuration..."},
	{2000 * time.Millisecond, "NetworkMapper: Re-initializing adaptive detection engine..."},
	{3000 * time.Millisecond, "NetworkMapper: Discovery process reset complete. Please reconfigure your environment."},
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry of the conversation.
type Message struct {
	ID      string         `json:"id"`
	Role    Role           `json:"role"`
	Text    string         `json:"text"`
	Topic   router.Topic   `json:"topic,omitempty"`
	Persona router.Persona `json:"persona,omitempty"`
	At      time.Time      `json:"at"`
}

// Recorder persists what a session produces. Calls are made with the
// session lock held and must not call back into the session.
type Recorder interface {
	RecordMessage(sessionID string, m Message)
	RecordState(sessionID string, st session.State, ranges []catalog.IPRange)
}

// Rand is the random source shared by the router, the inventory and the
// link monitor. *math/rand/v2.Rand satisfies it.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// Options configure a Session. The zero value is usable: it runs on the
// wall clock with default delays and no link simulation.
type Options struct {
	ID        string
	Catalog   *catalog.Catalog
	Scheduler schedule.Scheduler
	Rand      Rand
	Delays    *router.Delays
	Monitor   *monitor.Config // nil disables the link simulation
	Recorder  Recorder
	Logger    *slog.Logger

	// OnMessage is called for every appended message with the session lock
	// held. It must not call back into the session.
	OnMessage func(Message)

	// Restored state, used when reloading a persisted session.
	State   *session.State
	Ranges  []catalog.IPRange
	History []Message
}

// Session is one conversation. It is safe for concurrent use.
type Session struct {
	id        string
	cat       *catalog.Catalog
	rnd       Rand
	delays    router.Delays
	router    *router.Router
	sched     schedule.Scheduler
	ownSched  *schedule.Realtime
	steps     *schedule.Group
	mon       *monitor.Monitor
	recorder  Recorder
	onMessage func(Message)
	logger    *slog.Logger
	created   time.Time

	mu      sync.Mutex
	st      session.State
	inv     *network.Inventory
	history []Message
	gen     int // bumped by Reset; stale transcript callbacks compare against it
	closed  bool
}

// New creates a session and starts its link monitor.
func New(opts Options) (*Session, error) {
	s := &Session{
		id:        opts.ID,
		cat:       opts.Catalog,
		rnd:       opts.Rand,
		delays:    router.DefaultDelays,
		sched:     opts.Scheduler,
		recorder:  opts.Recorder,
		onMessage: opts.OnMessage,
		logger:    opts.Logger,
		st:        session.Default(),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.cat == nil {
		s.cat = catalog.Default()
	}
	if s.rnd == nil {
		s.rnd = globalRand{}
	}
	if opts.Delays != nil {
		s.delays = *opts.Delays
	}
	if s.sched == nil {
		s.ownSched = schedule.NewRealtime()
		s.sched = s.ownSched
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", s.id)
	s.created = s.sched.Now()

	s.router = router.New(s.cat, s.rnd, s.delays)
	s.steps = schedule.NewGroup(s.sched)
	s.inv = network.NewInventory(s.cat)

	if opts.State != nil {
		s.st = *opts.State
	}
	if err := s.inv.Restore(s.st.Scale, opts.Ranges); err != nil {
		return nil, fmt.Errorf("restoring session %s: %w", s.id, err)
	}
	if len(opts.History) > 0 {
		s.history = append([]Message(nil), opts.History...)
		s.trimLocked()
	}

	monCfg := monitor.Config{}
	if opts.Monitor != nil {
		monCfg = *opts.Monitor
	}
	s.mon = monitor.New(monCfg, s.sched, s.rnd, s.agentActive, s.onLink)
	s.mon.Start()
	if opts.Monitor != nil && s.st.CLIFallback {
		s.mon.Resume()
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Close stops the link monitor and cancels every pending message.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.mon.Stop()
	s.steps.StopAll()
	if s.ownSched != nil {
		s.ownSched.Close()
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// State returns the current session state.
func (s *Session) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Send handles one line of user input. Blank input (after sanitizing) is
// ignored and reported with ok=false. The user message is appended at once;
// the reply transcript is appended as its delays elapse.
func (s *Session) Send(input string) (res router.Result, ok bool) {
	input = Sanitize(input)
	if input == "" {
		return router.Result{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return router.Result{}, false
	}

	s.appendLocked(Message{Role: RoleUser, Text: input})
	res = s.router.Handle(input, s.st)
	if !res.Delta.Empty() {
		s.st = res.Delta.Apply(s.st)
		if res.Delta.AgentActive != nil && *res.Delta.AgentActive {
			s.mon.Reset()
		}
		s.recordStateLocked()
	}

	var at time.Duration
	for _, step := range res.Steps {
		at += step.After
		m := Message{Role: RoleSystem, Text: step.Text}
		if step.Kind == router.StepReply {
			m.Role = RoleAgent
			m.Topic = step.Topic
			m.Persona = step.Persona
		}
		s.postAfter(at, m)
	}
	return res, true
}

// SetPage changes the ambient page used when input names no topic.
func (s *Session) SetPage(page string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.Page = page
	s.recordStateLocked()
}

// ToggleAgent switches between autonomous and manual control. Switching to
// manual also pauses discovery and scanning.
func (s *Session) ToggleAgent() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.AgentActive = !s.st.AgentActive
	status := "resumed autonomous operation"
	if !s.st.AgentActive {
		s.st.DiscoveryActive = false
		s.st.ScanningActive = false
		status = "switched to manual control mode"
	}
	s.recordStateLocked()
	s.appendLocked(Message{Role: RoleSystem, Text: fmt.Sprintf(msgAgentToggled, status)})
	return s.st
}

// SelectScale configures the inventory for sc.
func (s *Session) SelectScale(sc session.Scale) error {
	if sc == session.ScaleNone {
		return network.ErrNoScale
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inv.Configure(sc); err != nil {
		return err
	}
	s.st.Scale = sc
	s.recordStateLocked()
	s.appendLocked(Message{Role: RoleSystem, Text: s.inv.ConfiguredMessage()})
	s.logger.Info("scale selected", "scale", sc)
	return nil
}

// ToggleScanning pauses or resumes auto-scan and returns the new setting.
func (s *Session) ToggleScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.ScanningActive = !s.st.ScanningActive
	s.recordStateLocked()
	s.appendLocked(Message{Role: RoleSystem, Text: network.ScanningMessage(s.st.Scale, s.st.ScanningActive)})
	return s.st.ScanningActive
}

// AddRange adds a monitored range. The discovery notice follows a second
// later.
func (s *Session) AddRange(nr network.NewRange) (catalog.IPRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return catalog.IPRange{}, ErrClosed
	}

	r, err := s.inv.AddRange(nr, s.rnd)
	if err != nil {
		return catalog.IPRange{}, err
	}
	s.recordStateLocked()
	s.postAfter(rangeNoticeDelay, Message{
		Role:    RoleAgent,
		Text:    s.inv.AddedMessage(r),
		Topic:   router.TopicNetwork,
		Persona: router.PersonaNetworkMapper,
	})
	return r, nil
}

// InspectRange posts the NetworkMapper analysis of a range.
func (s *Session) InspectRange(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	r, err := s.inv.Range(id)
	if err != nil {
		return err
	}
	s.postAfter(detailDelay, networkMapperMessage(network.DescribeRange(r)))
	return nil
}

// InspectDevice posts the NetworkMapper summary of a device.
func (s *Session) InspectDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	d, err := s.inv.Device(id)
	if err != nil {
		return err
	}
	s.postAfter(detailDelay, networkMapperMessage(network.DescribeDevice(d)))
	return nil
}

// Rescan stages a discovery reset. When it completes the scale is cleared
// and must be selected again.
func (s *Session) Rescan() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.appendLocked(Message{Role: RoleSystem, Text: msgRescanStart})
	last := len(rescanStages) - 1
	for i, stage := range rescanStages {
		text := stage.text
		if i != last {
			s.postAfter(stage.at, Message{Role: RoleSystem, Text: text})
			continue
		}
		s.afterLocked(stage.at, func() {
			s.appendLocked(Message{Role: RoleSystem, Text: text})
			s.clearScaleLocked()
			s.st.Scale = session.ScaleNone
			s.recordStateLocked()
			s.postAfter(rescanFinishDelay, Message{Role: RoleSystem, Text: msgRescanDone})
		})
	}
	return nil
}

// Recommend runs the simulated environment auto-scan.
func (s *Session) Recommend() catalog.Scenario {
	s.mu.Lock()
	defer s.mu.Unlock()
	return network.Recommend(s.cat, s.rnd)
}

// Reset returns the session to its initial state: default flags, no scale,
// empty history. Pending transcript messages are cancelled.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.steps.StopAll()
	s.gen++
	s.mon.Reset()
	s.st = session.Default()
	s.clearScaleLocked()
	s.history = nil
	s.recordStateLocked()
	s.logger.Debug("session reset", "cancelled", n)
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	ID          string            `json:"id"`
	State       session.State     `json:"state"`
	Link        monitor.Status    `json:"link"`
	Metrics     network.Metrics   `json:"metrics"`
	Ranges      []catalog.IPRange `json:"ranges"`
	Devices     []catalog.Device  `json:"devices"`
	CanAddRange bool              `json:"can_add_range"`
	Messages    int               `json:"messages"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:          s.id,
		State:       s.st,
		Link:        s.mon.Status(),
		Metrics:     s.inv.Metrics(),
		Ranges:      s.inv.Ranges(),
		Devices:     s.inv.Devices(),
		CanAddRange: s.inv.CanAddRange(),
		Messages:    len(s.history),
		CreatedAt:   s.created,
	}
}

// History returns up to limit of the most recent messages, oldest first.
// A limit of zero or less returns the whole history.
func (s *Session) History(limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Message(nil), h...)
}

// Pending reports how many transcript messages are still scheduled.
func (s *Session) Pending() int {
	return s.steps.Len()
}

func (s *Session) agentActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AgentActive
}

func (s *Session) onLink(ev monitor.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case monitor.Lost:
		s.st.CLIFallback = true
		s.appendLocked(Message{Role: RoleSystem, Text: msgLinkLost})
	case monitor.Restored:
		s.st.CLIFallback = false
		s.appendLocked(Message{Role: RoleSystem, Text: msgLinkRestored})
	case monitor.Exhausted:
		s.appendLocked(Message{Role: RoleSystem, Text: fmt.Sprintf(msgLinkGaveUp, ev.Attempt)})
	}
	s.recordStateLocked()
}

// postAfter appends m once d has elapsed. s.mu must be held.
func (s *Session) postAfter(d time.Duration, m Message) {
	s.afterLocked(d, func() { s.appendLocked(m) })
}

// afterLocked runs fn with s.mu held once d has elapsed, unless the session
// was reset in the meantime. s.mu must be held.
func (s *Session) afterLocked(d time.Duration, fn func()) {
	if s.closed {
		return
	}
	gen := s.gen
	s.steps.After(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		fn()
	})
}

// appendLocked stamps and appends m. s.mu must be held.
func (s *Session) appendLocked(m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.At.IsZero() {
		m.At = s.sched.Now()
	}
	s.history = append(s.history, m)
	s.trimLocked()
	if s.recorder != nil {
		s.recorder.RecordMessage(s.id, m)
	}
	if s.onMessage != nil {
		s.onMessage(m)
	}
}

// clearScaleLocked empties the inventory. s.mu must be held.
func (s *Session) clearScaleLocked() {
	if err := s.inv.Configure(session.ScaleNone); err != nil {
		s.logger.Error("clearing inventory", "error", err)
	}
}

func (s *Session) trimLocked() {
	if len(s.history) > historyMax {
		s.history = append([]Message(nil), s.history[len(s.history)-historyKeep:]...)
	}
}

func (s *Session) recordStateLocked() {
	if s.recorder != nil {
		s.recorder.RecordState(s.id, s.st, s.inv.Ranges())
	}
}

func networkMapperMessage(text string) Message {
	return Message{
		Role:    RoleAgent,
		Text:    text,
		Topic:   router.TopicNetwork,
		Persona: router.PersonaNetworkMapper,
	}
}
