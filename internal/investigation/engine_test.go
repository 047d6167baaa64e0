package investigation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexhq/cortex/internal/config"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/llm"
	"github.com/cortexhq/cortex/internal/model"
)

type fakeProvider struct {
	responses []llm.ChatResponse
	calls     int
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if f.calls >= len(f.responses) {
		return llm.ChatResponse{}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeProvider) Name() string { return "fake" }

// recordingProvider behaves like fakeProvider but also records every
// request it was handed, so tests can inspect message shape across turns.
type recordingProvider struct {
	responses []llm.ChatResponse
	calls     int
	captured  *[]llm.ChatRequest
}

func (f *recordingProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	*f.captured = append(*f.captured, req)
	if f.calls >= len(f.responses) {
		return llm.ChatResponse{}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *recordingProvider) Name() string { return "fake" }

func TestInvestigateDiagnoseCompleteEndsLoop(t *testing.T) {
	store, err := knowledge.New(t.TempDir())
	require.NoError(t, err)
	store.UpsertService(model.Service{Name: "api-x", Type: model.ServiceTypeApp, Stack: "node"})

	provider := &fakeProvider{
		responses: []llm.ChatResponse{
			{
				ToolCalls: []llm.ToolCall{
					{
						ID:   "tc1",
						Name: "diagnose_complete",
						Input: map[string]any{
							"diagnosis": "deploy crashed due to missing env var",
							"severity":  "high",
							"actions": []any{
								map[string]any{"type": "restart", "details": map[string]any{}},
							},
						},
					},
				},
			},
		},
	}

	engine := New(store, fakePlatformAdapter{}, nil, provider, nil, config.ServicesConfig{}, config.DefaultAutonomyConfig(), DefaultConfig())

	inc := engine.Investigate(context.Background(), "api-x", "Health check failed for api-x")

	assert.Equal(t, "deploy crashed due to missing env var", inc.Diagnosis)
	assert.Equal(t, model.SeverityHigh, inc.Severity)
	require.Len(t, inc.Actions, 1)
	assert.Equal(t, model.ActionRestart, inc.Actions[0].Type)
	assert.Equal(t, 1, inc.Turns)
}

func TestInvestigateBreaksWithNoToolUse(t *testing.T) {
	store, err := knowledge.New(t.TempDir())
	require.NoError(t, err)
	store.UpsertService(model.Service{Name: "api-x"})

	provider := &fakeProvider{responses: []llm.ChatResponse{{Text: "I need more information but have none."}}}
	engine := New(store, fakePlatformAdapter{}, nil, provider, nil, config.ServicesConfig{}, config.DefaultAutonomyConfig(), DefaultConfig())

	inc := engine.Investigate(context.Background(), "api-x", "Manual diagnosis requested")
	assert.Empty(t, inc.Diagnosis)
	assert.Equal(t, 1, inc.Turns)
}

func TestInvestigateBatchesMultipleToolResultsIntoOneMessage(t *testing.T) {
	store, err := knowledge.New(t.TempDir())
	require.NoError(t, err)
	store.UpsertService(model.Service{Name: "api-x", Type: model.ServiceTypeApp, Stack: "node"})

	var capturedRequests []llm.ChatRequest
	provider := &recordingProvider{
		responses: []llm.ChatResponse{
			{
				ToolCalls: []llm.ToolCall{
					{ID: "tc1", Name: "get_logs", Input: map[string]any{"service": "api-x"}},
					{ID: "tc2", Name: "check_health", Input: map[string]any{"service": "api-x"}},
				},
			},
			{
				ToolCalls: []llm.ToolCall{
					{
						ID:   "tc3",
						Name: "diagnose_complete",
						Input: map[string]any{
							"diagnosis": "resolved",
							"severity":  "low",
						},
					},
				},
			},
		},
		captured: &capturedRequests,
	}

	engine := New(store, fakePlatformAdapter{}, nil, provider, nil, config.ServicesConfig{}, config.DefaultAutonomyConfig(), DefaultConfig())
	inc := engine.Investigate(context.Background(), "api-x", "Manual diagnosis requested")

	assert.Equal(t, "resolved", inc.Diagnosis)
	require.Len(t, capturedRequests, 2)

	secondReq := capturedRequests[1]
	var toolResultMsgs []llm.Message
	for _, m := range secondReq.Messages {
		if len(m.ToolResults) > 0 {
			toolResultMsgs = append(toolResultMsgs, m)
		}
	}
	require.Len(t, toolResultMsgs, 1, "both tool results from the first turn must land in a single message")
	assert.Len(t, toolResultMsgs[0].ToolResults, 2)
}

func TestInvestigateZeroMaxTurns(t *testing.T) {
	store, err := knowledge.New(t.TempDir())
	require.NoError(t, err)
	store.UpsertService(model.Service{Name: "api-x"})

	engine := New(store, fakePlatformAdapter{}, nil, &fakeProvider{}, nil, config.ServicesConfig{}, config.DefaultAutonomyConfig(), Config{MaxTurns: 0})
	inc := engine.Investigate(context.Background(), "api-x", "trigger")

	assert.Empty(t, inc.Diagnosis)
	assert.Empty(t, inc.Actions)
}
