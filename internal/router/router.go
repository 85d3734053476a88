// Package router classifies chat input into a topic, picks the sub-agent
// persona for it, and synthesizes the reply. It is a pure function of the
// input and the session state; randomness comes from an injected source.
package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/sentinelx/internal/catalog"
	"github.com/kalambet/sentinelx/internal/session"
)

// Rand picks a uniform index in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Mode says which path handled an input.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModeCLI   Mode = "cli"
)

// StepKind distinguishes status chatter from the reply itself.
type StepKind string

const (
	StepSystem StepKind = "system"
	StepReply  StepKind = "reply"
)

// Step is one message of the reply transcript. After is measured from the
// previous step (or from receipt of the input for the first step).
type Step struct {
	Kind    StepKind
	Text    string
	After   time.Duration
	Topic   Topic   // reply steps only
	Persona Persona // reply steps only
}

// MarshalJSON renders After in milliseconds.
func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind    StepKind `json:"kind"`
		Text    string   `json:"text"`
		AfterMS int64    `json:"after_ms"`
		Topic   Topic    `json:"topic,omitempty"`
		Persona Persona  `json:"persona,omitempty"`
	}{s.Kind, s.Text, s.After.Milliseconds(), s.Topic, s.Persona})
}

// Delays are the pauses of the reply transcript.
type Delays struct {
	Typing     time.Duration // before the first message
	Routing    time.Duration // main agent routing
	Handoff    time.Duration // sub-agent hand-off
	Quarantine time.Duration // quarantine confirmation after the acknowledgment
}

// DefaultDelays match the chat widget's timing.
var DefaultDelays = Delays{
	Typing:     300 * time.Millisecond,
	Routing:    500 * time.Millisecond,
	Handoff:    800 * time.Millisecond,
	Quarantine: time.Second,
}

// Result is the outcome of handling one input.
type Result struct {
	Input   string        `json:"input"`
	Reply   string        `json:"reply"`
	Mode    Mode          `json:"mode"`
	Topic   Topic         `json:"topic"`
	Persona Persona       `json:"persona,omitempty"`
	Delta   session.Delta `json:"delta"`
	Steps   []Step        `json:"steps"`
}

const (
	routingNotice     = "Routing to Main Agent..."
	quarantineUsage   = "Main Agent: Please specify a valid IP address. Usage: quarantine 192.168.1.105"
	enableAgentReply  = "✅ Main Agent re-enabled. Autonomous mode restored."
	helpFooter        = "All commands route through appropriate sub-agents with hybrid encryption."
	cliUnknownCommand = "[CLI] Command executed: %s"
)

var ipv4Pattern = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)

// Router is the contextual command router.
type Router struct {
	cat    *catalog.Catalog
	rand   Rand
	delays Delays
	logger *slog.Logger
}

// New creates a Router. A nil catalog uses the embedded one; a nil rnd uses
// the process-wide random source.
func New(cat *catalog.Catalog, rnd Rand, delays Delays) *Router {
	if cat == nil {
		cat = catalog.Default()
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Router{
		cat:    cat,
		rand:   rnd,
		delays: delays,
		logger: slog.Default(),
	}
}

// Handle routes input against st. It never fails: unroutable input falls
// back to the main agent and the general pool.
func (r *Router) Handle(input string, st session.State) Result {
	input = strings.TrimSpace(input)
	lower := strings.ToLower(input)

	var res Result
	if st.Degraded() {
		res = r.handleCLI(input, lower, st)
	} else {
		res = r.handleAgent(input, lower, st)
	}
	r.logger.Debug("input routed", "mode", res.Mode, "topic", res.Topic, "persona", res.Persona)
	return res
}

func (r *Router) handleAgent(input, lower string, st session.State) Result {
	topic := Classify(lower, st.Page)
	persona := PersonaFor(topic)

	res := Result{
		Input:   input,
		Mode:    ModeAgent,
		Topic:   topic,
		Persona: persona,
	}

	var deferred *Step
	switch {
	case strings.Contains(lower, "status"):
		res.Reply = r.agentStatus(contextLabel(lower, topic, st.Page), st)
	case strings.Contains(lower, "help"):
		res.Reply = r.agentHelp(topic, contextLabel(lower, topic, st.Page))
	case strings.Contains(lower, "quarantine"):
		ip, ok := findIPv4(lower)
		if !ok {
			res.Reply = quarantineUsage
			break
		}
		res.Reply = fmt.Sprintf("Main Agent: Initiating quarantine for IP %s...", ip)
		deferred = &Step{
			Kind:    StepReply,
			Text:    fmt.Sprintf("DefenseOrchestrator: IP %s quarantined successfully. All traffic blocked. Action logged with quantum-resistant signature.", ip),
			After:   r.delays.Quarantine,
			Topic:   TopicDefense,
			Persona: PersonaDefenseOrchestrator,
		}
	default:
		pool := r.cat.Pool(string(topic))
		res.Reply = pool[r.rand.IntN(len(pool))]
	}

	res.Steps = append(res.Steps, Step{Kind: StepSystem, Text: routingNotice, After: r.delays.Typing})
	replyAfter := r.delays.Routing
	if persona != PersonaMain {
		res.Steps = append(res.Steps, Step{
			Kind:  StepSystem,
			Text:  fmt.Sprintf("Main Agent: Routing to %s sub-agent...", persona),
			After: r.delays.Routing,
		})
		replyAfter = r.delays.Handoff
	}
	res.Steps = append(res.Steps, Step{Kind: StepReply, Text: res.Reply, After: replyAfter, Topic: topic, Persona: persona})
	if deferred != nil {
		res.Steps = append(res.Steps, *deferred)
	}
	return res
}

// contextLabel names the module in status and help headers: the matched
// topic, or the current page when no keyword matched.
func contextLabel(lower string, topic Topic, page string) string {
	if _, ok := matchKeywords(lower); ok || page == "" {
		return strings.ToUpper(string(topic))
	}
	return strings.ToUpper(page)
}

func (r *Router) agentStatus(label string, st session.State) string {
	mode := "Autonomous"
	if !st.AgentActive {
		mode = "Manual Control"
	}
	return fmt.Sprintf(`System Status - %s Module:
• AI Mode: %s
• Encryption: Hybrid Active (Classical + Post-Quantum)
• Sub-Agents: 6 Online
• Threat Level: Medium
• Deployment Scale: %s
• Discovery: %s
• Performance: Optimal
• Uptime: 99.98%%`, label, mode, st.Scale, activeLabel(st.DiscoveryActive))
}

func (r *Router) agentHelp(topic Topic, label string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Available Commands (%s):\n", label)
	sb.WriteString(bullets(r.cat.HelpFor(string(topic))))
	sb.WriteString("\n\n")
	sb.WriteString(helpFooter)
	return sb.String()
}

func (r *Router) handleCLI(input, lower string, st session.State) Result {
	res := Result{
		Input: input,
		Mode:  ModeCLI,
		Topic: TopicGeneral,
	}

	switch lower {
	case "help":
		res.Reply = "CLI Mode Commands (Hybrid V2):\n" + bullets(r.cat.CLI.Help)
	case "status":
		res.Reply = fmt.Sprintf(`[CLI] System Status:
• Mode: CLI (Manual Control)
• Version: %s
• Threats: 7 active
• Devices: 247 protected
• Encryption: Hybrid Active
• Deployment Scale: %s
• Discovery: %s
• Uptime: 99.98%%`, r.cat.Version, st.Scale, activeLabel(st.DiscoveryActive))
	case "version":
		res.Reply = fmt.Sprintf(`[CLI] AI Sentinel-X Hybrid V2
• Version: %s
• API: %s
• Encryption: Classical + Post-Quantum
• Architecture: Modular Sub-Agent System
• Status: Operational`, r.cat.Version, r.cat.APIVersion)
	case "list threats":
		var sb strings.Builder
		sb.WriteString("[CLI] Active Threats:")
		for i, th := range r.cat.CLI.Threats {
			fmt.Fprintf(&sb, "\n%d. %s", i+1, th)
		}
		res.Reply = sb.String()
	case "scale info":
		res.Reply = r.cliScaleInfo(st)
	case "discovery status":
		res.Reply = fmt.Sprintf("[CLI] Discovery: %s\n• Scanning: %s\n• Deployment Scale: %s",
			activeLabel(st.DiscoveryActive), activeLabel(st.ScanningActive), st.Scale)
	case "enable agent":
		res.Reply = enableAgentReply
		res.Delta = session.Delta{
			AgentActive:     session.Bool(true),
			CLIFallback:     session.Bool(false),
			DiscoveryActive: session.Bool(true),
		}
	default:
		res.Reply = fmt.Sprintf(cliUnknownCommand, input)
	}

	res.Steps = []Step{{Kind: StepReply, Text: res.Reply, After: r.delays.Typing}}
	return res
}

func (r *Router) cliScaleInfo(st session.State) string {
	cfg, ok := r.cat.Scale(st.Scale)
	if !ok {
		return "[CLI] Deployment Scale: none\n• Select individual, business or enterprise to configure monitoring."
	}
	limit := "unlimited"
	if cfg.MaxRanges > 0 {
		limit = fmt.Sprintf("%d", cfg.MaxRanges)
	}
	return fmt.Sprintf("[CLI] Deployment Scale: %s\n• Profile: %s\n• Context: %s\n• Max Ranges: %s",
		st.Scale, cfg.Label, cfg.ChatContext, limit)
}

// findIPv4 returns the first dotted-quad in s that is a valid IPv4 address.
func findIPv4(s string) (string, bool) {
	for _, m := range ipv4Pattern.FindAllString(s, -1) {
		if addr, err := netip.ParseAddr(m); err == nil && addr.Is4() {
			return m, true
		}
	}
	return "", false
}

func activeLabel(on bool) string {
	if on {
		return "ACTIVE"
	}
	return "PAUSED"
}

func bullets(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "• " + it
	}
	return strings.Join(lines, "\n")
}
