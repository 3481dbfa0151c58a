package cel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookrelay/pkg/models"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `payload.action == "opened"`,
			wantError: false,
		},
		{
			name:      "valid numeric comparison",
			expr:      `payload.size > 100.0`,
			wantError: false,
		},
		{
			name:      "valid type match",
			expr:      `source == "github" && type == "pull_request"`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilterExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid bool expression",
			expr:      `payload.action == "opened"`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `payload.size`,
			wantError: true,
		},
		{
			name:      "valid contains",
			expr:      `payload.repo.contains("internal")`,
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateFilterExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateFilter(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	event := models.EventData{
		ID:        "evt-1",
		Source:    "github",
		Type:      "pull_request",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"action": "opened",
			"pull_request": map[string]interface{}{
				"draft": true,
			},
		},
		Tags: []string{"urgent"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "payload match",
			expr: `payload.action == "opened"`,
			want: true,
		},
		{
			name: "nested field",
			expr: `payload.pull_request.draft == true`,
			want: true,
		},
		{
			name: "envelope fields",
			expr: `source == "github" && type == "pull_request"`,
			want: true,
		},
		{
			name: "tag membership",
			expr: `"urgent" in tags`,
			want: true,
		},
		{
			name: "non-matching",
			expr: `payload.action == "closed"`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateFilter(context.Background(), tt.expr, event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateFilterMissingField(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	event := models.EventData{
		ID:        "evt-2",
		Source:    "github",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{},
	}

	_, err = eval.EvaluateFilter(context.Background(), `payload.missing == "x"`, event)
	assert.Error(t, err)
}
