// Package analyze sends a transcript to the completion API and parses
// the labelled-section response into a structured result.
package analyze

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

const systemPrompt = `You are an assistant that analyzes meeting and voice note transcripts.
Respond in markdown with exactly these four sections, in this order:

## Summary
A short paragraph summarizing the recording.

## Key Points
- one bullet per key point

## Action Items
- [ ] one checkbox per action item

## Follow-up Questions
- one bullet per open question worth following up

Do not add other sections. Keep bullets short and factual.`

// Analyzer invokes the remote completion API.
type Analyzer struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewAnalyzer builds an analyzer for the given API key.
func NewAnalyzer(apiKey string, logger *slog.Logger) *Analyzer {
	return NewAnalyzerWithConfig(openai.DefaultConfig(apiKey), logger)
}

// NewAnalyzerWithConfig allows overriding the API base URL for tests.
func NewAnalyzerWithConfig(cfg openai.ClientConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		client:      openai.NewClientWithConfig(cfg),
		model:       openai.GPT4oMini,
		temperature: 0.3,
		logger:      logger,
	}
}

// Analyze sends one structured prompt and parses the response. Custom
// instructions are appended to the system prompt verbatim. Partial
// structure in the model's output never fails the analysis: a missing
// section just yields an empty field.
func (a *Analyzer) Analyze(ctx context.Context, transcriptText, customInstructions string) (*domain.AnalysisResult, error) {
	system := systemPrompt
	if extra := strings.TrimSpace(customInstructions); extra != "" {
		system += "\n\nAdditional instructions from the user:\n" + extra
	}

	a.logger.Debug("requesting transcript analysis", "transcriptChars", len(transcriptText))
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: a.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: transcriptText},
		},
	})
	if err != nil {
		return nil, mapAnalysisError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, failMalformed("completion API returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, failMalformed("completion API returned empty content")
	}

	return parseSections(content), nil
}

// parseSections walks the markdown response, keying off the labelled
// section headings and collecting their bullet/checkbox lines.
func parseSections(content string) *domain.AnalysisResult {
	result := &domain.AnalysisResult{
		KeyPoints:   []string{},
		ActionItems: []string{},
		FollowUps:   []string{},
	}

	var summaryLines []string
	section := ""
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)

		if heading, ok := matchHeading(line); ok {
			section = heading
			continue
		}
		if line == "" {
			continue
		}

		switch section {
		case "summary":
			summaryLines = append(summaryLines, line)
		case "key points":
			if item, ok := bulletText(line); ok {
				result.KeyPoints = append(result.KeyPoints, item)
			}
		case "action items":
			if item, ok := bulletText(line); ok {
				result.ActionItems = append(result.ActionItems, item)
			}
		case "follow-up questions":
			if item, ok := bulletText(line); ok {
				result.FollowUps = append(result.FollowUps, item)
			}
		}
	}

	result.Summary = strings.TrimSpace(strings.Join(summaryLines, " "))
	return result
}

// matchHeading recognizes the four labelled section headings in any
// heading depth or bold form the model chooses.
func matchHeading(line string) (string, bool) {
	trimmed := strings.ToLower(strings.Trim(line, "# *:"))
	switch trimmed {
	case "summary":
		return "summary", true
	case "key points":
		return "key points", true
	case "action items":
		return "action items", true
	case "follow-up questions", "follow up questions", "follow-ups", "followups":
		return "follow-up questions", true
	}
	return "", false
}

// bulletText strips list and checkbox markers from one line.
func bulletText(line string) (string, bool) {
	for _, prefix := range []string{"- [ ]", "- [x]", "- [X]", "-", "*", "•"} {
		if strings.HasPrefix(line, prefix) {
			text := strings.TrimSpace(strings.TrimPrefix(line, prefix))
			if text == "" {
				return "", false
			}
			return text, true
		}
	}
	// Numbered lists come back from some models despite the prompt.
	if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		return strings.TrimSpace(line[2:]), true
	}
	return "", false
}

// mapAnalysisError converts API errors into the typed taxonomy.
func mapAnalysisError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.NewFailure(
				domain.CodeUnauthorized,
				domain.KindConfig,
				"completion API rejected the credentials",
				err,
			).WithHint("Check the OPENAI_API_KEY environment variable.")
		case http.StatusTooManyRequests:
			return domain.TransientFailure(domain.CodeRateLimited, "completion API rate limit hit", err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return domain.TransientFailure(domain.CodeRemoteError, "completion API error: "+apiErr.Message, err)
			}
			return domain.NewFailure(domain.CodeRemoteError, domain.KindInternal,
				"completion API error: "+apiErr.Message, err)
		}
	}
	return domain.TransientFailure(domain.CodeRemoteError, "completion request failed", err)
}

func failMalformed(message string) error {
	return domain.NewFailure(domain.CodeMalformedResponse, domain.KindInternal, message, nil)
}
