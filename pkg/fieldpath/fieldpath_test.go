package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/pkg/models"
)

func sampleEvent() models.EventData {
	return models.EventData{
		ID:     "evt-1",
		Source: "github",
		Type:   "pull_request",
		Payload: map[string]interface{}{
			"action": "opened",
			"pull_request": map[string]interface{}{
				"draft":  true,
				"number": float64(42),
			},
		},
		Metadata: map[string]interface{}{
			"targetAgent": "notifier",
		},
		Tags: []string{"ci"},
	}
}

func TestResolve(t *testing.T) {
	event := sampleEvent()

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{"envelope field", "source", "github", true},
		{"payload top level", "payload.action", "opened", true},
		{"payload nested", "payload.pull_request.draft", true, true},
		{"bare path defaults into payload", "pull_request.number", float64(42), true},
		{"metadata", "metadata.targetAgent", "notifier", true},
		{"tags", "tags", []string{"ci"}, true},
		{"missing leaf", "payload.pull_request.title", nil, false},
		{"missing branch", "payload.issue.number", nil, false},
		{"traversal through scalar", "payload.action.x", nil, false},
		{"empty path", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := Resolve(event, tt.path)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSetCreatesIntermediateMaps(t *testing.T) {
	event := models.EventData{ID: "evt-1"}

	require.NoError(t, Set(&event, "payload.labels.team", "platform"))
	got, found := Resolve(event, "payload.labels.team")
	require.True(t, found)
	assert.Equal(t, "platform", got)

	require.NoError(t, Set(&event, "metadata.routed", true))
	got, found = Resolve(event, "metadata.routed")
	require.True(t, found)
	assert.Equal(t, true, got)
}

func TestSetRejectsEnvelopeFields(t *testing.T) {
	event := sampleEvent()

	assert.Error(t, Set(&event, "id", "other"))
	assert.Error(t, Set(&event, "source", "other"))
	assert.Error(t, Set(&event, "payload", map[string]interface{}{}))
	assert.Error(t, Set(&event, "", 1))
}

func TestSetBarePathWritesPayload(t *testing.T) {
	event := models.EventData{}
	require.NoError(t, Set(&event, "severity", "high"))
	assert.Equal(t, "high", event.Payload["severity"])
}

func TestDelete(t *testing.T) {
	event := sampleEvent()

	Delete(&event, "payload.pull_request.draft")
	_, found := Resolve(event, "payload.pull_request.draft")
	assert.False(t, found)

	// Missing paths and nil maps are a no-op.
	Delete(&event, "payload.nope.deeper")
	Delete(&models.EventData{}, "payload.x")

	Delete(&event, "metadata.targetAgent")
	_, found = Resolve(event, "metadata.targetAgent")
	assert.False(t, found)
}
