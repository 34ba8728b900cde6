// Package agents provides the built-in agent implementations: the
// coordinator that routes user queries and the tool executor that runs
// registered tools. Both are assembled from agent.BaseAgent and talk to
// each other exclusively through the message bus.
package agents

import (
	"strings"

	"github.com/agentbus-dev/agentbus/agent"
)

// Classifier maps a free-form user query to the capabilities needed to
// answer it.
type Classifier interface {
	Classify(query string) []agent.Capability
}

// KeywordClassifier is a deterministic Classifier driven by a keyword
// table. It always includes reasoning so that a general-purpose agent
// can pick up queries no specialist matches.
type KeywordClassifier struct{}

var capabilityKeywords = []struct {
	capability agent.Capability
	keywords   []string
}{
	{agent.CapabilityMath, []string{"calculate", "math", "equation", "formula", "+", "-", "*", "/"}},
	{agent.CapabilityCodeExecution, []string{"code", "program", "script", "execute", "run"}},
	{agent.CapabilitySearch, []string{"search", "find", "lookup", "information", "news"}},
	{agent.CapabilityWeather, []string{"weather", "temperature", "forecast", "climate"}},
	{agent.CapabilityResearch, []string{"research", "analyze", "study", "investigate"}},
}

// Classify implements Classifier.
func (KeywordClassifier) Classify(query string) []agent.Capability {
	q := strings.ToLower(query)

	var caps []agent.Capability
	for _, group := range capabilityKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(q, kw) {
				caps = append(caps, group.capability)
				break
			}
		}
	}

	return append(caps, agent.CapabilityReasoning)
}
