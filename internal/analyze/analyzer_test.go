package analyze

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/logging"
)

func newTestAnalyzer(t *testing.T, handler http.HandlerFunc) *Analyzer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := openai.DefaultConfig("sk-test-key-0123456789abcdef")
	cfg.BaseURL = server.URL + "/v1"
	return NewAnalyzerWithConfig(cfg, logging.Discard())
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
	}
}

const wellFormedResponse = `## Summary
The team agreed on the release plan for next month.

## Key Points
- Release is scheduled for the 15th.
- QA needs two extra days.

## Action Items
- [ ] Alex to draft the changelog.
- [x] Book the release war room.

## Follow-up Questions
- Who owns the rollback plan?
`

// TestAnalyzeParsesAllSections verifies heading and bullet extraction.
func TestAnalyzeParsesAllSections(t *testing.T) {
	var gotSystem string
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		gotSystem = req.Messages[0].Content

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(wellFormedResponse))
	})

	got, err := a.Analyze(context.Background(), "transcript text", "Focus on deadlines.")
	require.NoError(t, err)

	assert.Equal(t, "The team agreed on the release plan for next month.", got.Summary)
	assert.Equal(t, []string{"Release is scheduled for the 15th.", "QA needs two extra days."}, got.KeyPoints)
	assert.Equal(t, []string{"Alex to draft the changelog.", "Book the release war room."}, got.ActionItems)
	assert.Equal(t, []string{"Who owns the rollback plan?"}, got.FollowUps)

	// User instructions are appended verbatim.
	assert.True(t, strings.Contains(gotSystem, "Focus on deadlines."))
}

// TestAnalyzeMissingSectionYieldsEmptyList verifies partial structure
// does not fail the analysis.
func TestAnalyzeMissingSectionYieldsEmptyList(t *testing.T) {
	partial := "## Summary\nJust a quick note to self.\n\n## Key Points\n- Only one point.\n"
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(partial))
	})

	got, err := a.Analyze(context.Background(), "transcript", "")
	require.NoError(t, err)
	assert.Equal(t, "Just a quick note to self.", got.Summary)
	assert.Len(t, got.KeyPoints, 1)
	assert.Empty(t, got.ActionItems)
	assert.Empty(t, got.FollowUps)
}

// TestAnalyzeToleratesHeadingVariants covers bold and deeper headings.
func TestAnalyzeToleratesHeadingVariants(t *testing.T) {
	variant := "**Summary:**\nShort recap.\n\n### Key Points\n* star bullets\n"
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(variant))
	})

	got, err := a.Analyze(context.Background(), "transcript", "")
	require.NoError(t, err)
	assert.Equal(t, "Short recap.", got.Summary)
	assert.Equal(t, []string{"star bullets"}, got.KeyPoints)
}

// TestAnalyzeNoChoicesIsMalformed verifies the unparseable case.
func TestAnalyzeNoChoicesIsMalformed(t *testing.T) {
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "chatcmpl-1", "choices": []any{}})
	})

	_, err := a.Analyze(context.Background(), "transcript", "")
	require.Error(t, err)
	assert.Equal(t, domain.CodeMalformedResponse, domain.CodeOf(err))
}

// TestAnalyzeErrorMapping covers credential and rate-limit statuses.
func TestAnalyzeErrorMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantCode domain.FailureCode
		wantKind domain.FailureKind
	}{
		{http.StatusUnauthorized, domain.CodeUnauthorized, domain.KindConfig},
		{http.StatusTooManyRequests, domain.CodeRateLimited, domain.KindTransient},
	}

	for _, tc := range cases {
		a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "nope", "type": "invalid_request_error"},
			})
		})

		_, err := a.Analyze(context.Background(), "transcript", "")
		require.Error(t, err)
		assert.Equal(t, tc.wantCode, domain.CodeOf(err))
		assert.Equal(t, tc.wantKind, domain.KindOf(err))
	}
}
