package events

import "github.com/cadenza-ai/cadenza/pkg/models"

// VisibilityTier classifies which external adapters may observe an
// event. Tiers nest: everything visible at TierStreaming is also visible
// at TierIntegration, and TierInternal covers every event.
type VisibilityTier int

const (
	// TierStreaming is the minimal set driving a real-time chat UI.
	TierStreaming VisibilityTier = iota + 1
	// TierIntegration adds session lifecycle, MCP connectivity and
	// state-change events for webhook-style consumers.
	TierIntegration
	// TierInternal is everything else, reachable only by direct bus
	// subscription. New event names default here unless promoted.
	TierInternal
)

var streamingEvents = map[models.EventName]struct{}{
	models.EventLLMThinking:         {},
	models.EventLLMChunk:            {},
	models.EventLLMResponse:         {},
	models.EventLLMError:            {},
	models.EventToolCall:            {},
	models.EventToolRunning:         {},
	models.EventToolResult:          {},
	models.EventRunComplete:         {},
	models.EventApprovalRequest:     {},
	models.EventApprovalResponse:    {},
	models.EventInputUnsupported:    {},
	models.EventSessionTitleUpdated: {},
}

var integrationOnlyEvents = map[models.EventName]struct{}{
	models.EventSessionCreated:         {},
	models.EventSessionReset:           {},
	models.EventMCPServerConnected:     {},
	models.EventMCPServerDisconnected:  {},
	models.EventMCPServerFailed:        {},
	models.EventMCPToolsChanged:        {},
	models.EventLLMSwitched:            {},
	models.EventStateChanged:           {},
}

// Tier returns the lowest tier whose adapters may observe the event
// name. Unknown names are internal.
func Tier(name models.EventName) VisibilityTier {
	if _, ok := streamingEvents[name]; ok {
		return TierStreaming
	}
	if _, ok := integrationOnlyEvents[name]; ok {
		return TierIntegration
	}
	return TierInternal
}

// Visible reports whether an adapter operating at the given tier may
// expose the event name.
func Visible(name models.EventName, tier VisibilityTier) bool {
	return Tier(name) <= tier
}

// StreamingEvents returns the tier-1 name set (copy).
func StreamingEvents() []models.EventName {
	return keys(streamingEvents)
}

// IntegrationEvents returns the tier-2 name set (copy), a strict
// superset of the streaming set.
func IntegrationEvents() []models.EventName {
	out := keys(streamingEvents)
	return append(out, keys(integrationOnlyEvents)...)
}

func keys(m map[models.EventName]struct{}) []models.EventName {
	out := make([]models.EventName, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
