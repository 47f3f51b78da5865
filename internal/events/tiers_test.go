package events

import (
	"testing"

	"github.com/cadenza-ai/cadenza/pkg/models"
)

// Every streaming event must also be visible at the integration tier.
func TestStreamingSubsetOfIntegration(t *testing.T) {
	integration := make(map[models.EventName]struct{})
	for _, name := range IntegrationEvents() {
		integration[name] = struct{}{}
	}
	for _, name := range StreamingEvents() {
		if _, ok := integration[name]; !ok {
			t.Errorf("streaming event %q missing from integration set", name)
		}
	}
}

func TestTierClassification(t *testing.T) {
	cases := []struct {
		name models.EventName
		want VisibilityTier
	}{
		{models.EventLLMChunk, TierStreaming},
		{models.EventToolResult, TierStreaming},
		{models.EventRunComplete, TierStreaming},
		{models.EventApprovalRequest, TierStreaming},
		{models.EventSessionCreated, TierIntegration},
		{models.EventMCPServerFailed, TierIntegration},
		{models.EventStateChanged, TierIntegration},
		{models.EventContextCompressed, TierInternal},
		{models.EventMessageQueued, TierInternal},
		{models.EventSessionOverrideSet, TierInternal},
		// Unknown names default to internal.
		{models.EventName("future:event"), TierInternal},
	}
	for _, tc := range cases {
		if got := Tier(tc.name); got != tc.want {
			t.Errorf("Tier(%q) = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestVisible(t *testing.T) {
	if !Visible(models.EventLLMChunk, TierStreaming) {
		t.Error("llm:chunk should be visible to streaming adapters")
	}
	if Visible(models.EventSessionCreated, TierStreaming) {
		t.Error("session:created must not leak into streaming adapters")
	}
	if !Visible(models.EventSessionCreated, TierIntegration) {
		t.Error("session:created should be visible to integration adapters")
	}
	if Visible(models.EventMessageQueued, TierIntegration) {
		t.Error("message:queued is internal-only")
	}
	if !Visible(models.EventMessageQueued, TierInternal) {
		t.Error("every event is visible to direct subscribers")
	}
}
