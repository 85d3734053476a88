package router

import "strings"

// Topic is the classification bucket for an input.
type Topic string

const (
	TopicThreats    Topic = "threats"
	TopicNetwork    Topic = "network"
	TopicEncryption Topic = "encryption"
	TopicDefense    Topic = "defense"
	TopicAnalytics  Topic = "analytics"
	TopicLogs       Topic = "logs"
	TopicGeneral    Topic = "general"
)

// Persona is the display name of the simulated sub-agent for a topic.
type Persona string

const (
	PersonaThreatScanner       Persona = "ThreatScanner"
	PersonaNetworkMapper       Persona = "NetworkMapper"
	PersonaEncryptionManager   Persona = "EncryptionManager"
	PersonaDefenseOrchestrator Persona = "DefenseOrchestrator"
	PersonaAnalyticsEngine     Persona = "AnalyticsEngine"
	PersonaLogAgent            Persona = "LogAgent"
	PersonaMain                Persona = "Main Agent"
)

type keywordSet struct {
	topic    Topic
	keywords []string
}

// Order matters: the first set with a keyword contained in the input wins.
var keywordSets = []keywordSet{
	{TopicThreats, []string{"threat", "attack", "malware"}},
	{TopicNetwork, []string{"network", "device", "scan"}},
	{TopicEncryption, []string{"encrypt", "crypto", "quantum"}},
	{TopicDefense, []string{"defense", "response", "honeypot"}},
	{TopicAnalytics, []string{"analytics", "report", "metric"}},
	{TopicLogs, []string{"log", "audit", "compliance"}},
}

var personas = map[Topic]Persona{
	TopicThreats:    PersonaThreatScanner,
	TopicNetwork:    PersonaNetworkMapper,
	TopicEncryption: PersonaEncryptionManager,
	TopicDefense:    PersonaDefenseOrchestrator,
	TopicAnalytics:  PersonaAnalyticsEngine,
	TopicLogs:       PersonaLogAgent,
}

// Classify returns the topic of an already lower-cased input. When no
// keyword matches, the topic is taken from the ambient page.
func Classify(lower, page string) Topic {
	if t, ok := matchKeywords(lower); ok {
		return t
	}
	return TopicForPage(page)
}

// matchKeywords returns the first topic whose keyword set occurs in lower.
func matchKeywords(lower string) (Topic, bool) {
	for _, set := range keywordSets {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.topic, true
			}
		}
	}
	return "", false
}

// TopicForPage maps a page name to the topic of the same name, or general.
func TopicForPage(page string) Topic {
	t := Topic(strings.ToLower(page))
	if _, ok := personas[t]; ok {
		return t
	}
	return TopicGeneral
}

// PersonaFor returns the persona bound to t. Unknown topics map to the main agent.
func PersonaFor(t Topic) Persona {
	if p, ok := personas[t]; ok {
		return p
	}
	return PersonaMain
}

// Topics lists every topic in classification order, general last.
func Topics() []Topic {
	out := make([]Topic, 0, len(keywordSets)+1)
	for _, set := range keywordSets {
		out = append(out, set.topic)
	}
	return append(out, TopicGeneral)
}
