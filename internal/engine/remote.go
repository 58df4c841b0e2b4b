package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// RemoteEngine uploads normalized audio to the hosted transcription
// API as a multipart payload and maps its verbose response back into a
// Transcript. Segment-level timestamps are always requested.
type RemoteEngine struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewRemoteEngine builds a remote invoker for the given API key.
func NewRemoteEngine(apiKey string, logger *slog.Logger) *RemoteEngine {
	return NewRemoteEngineWithConfig(openai.DefaultConfig(apiKey), logger)
}

// NewRemoteEngineWithConfig allows overriding the API base URL, used
// by tests to point the client at a local server.
func NewRemoteEngineWithConfig(cfg openai.ClientConfig, logger *slog.Logger) *RemoteEngine {
	return &RemoteEngine{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.Whisper1,
		logger: logger,
	}
}

// Transcribe uploads the audio and parses the segmented response. The
// language hint is omitted for auto-detect. Cancellation aborts the
// in-flight request through the context.
func (e *RemoteEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (*domain.Transcript, error) {
	req := openai.AudioRequest{
		Model:    e.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	}
	if lang := normalizeLanguage(opts.Language); lang != "" {
		req.Language = lang
	}

	e.logger.Debug("uploading audio for remote transcription", "audio", audioPath)
	resp, err := e.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, mapRemoteError(err)
	}

	segments := make([]domain.TranscriptSegment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, domain.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
	if len(segments) == 0 && resp.Text != "" {
		segments = append(segments, domain.TranscriptSegment{Text: resp.Text})
	}

	// No OnProgress stream exists for an upload-and-wait request;
	// callers see 0 -> 1 on completion.
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}

	return &domain.Transcript{
		Segments: segments,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

// mapRemoteError converts transport/API errors into typed failures.
func mapRemoteError(err error) error {
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
				"transcription API rejected the credentials",
				err,
			).WithHint("Check the OPENAI_API_KEY environment variable.")
		case http.StatusRequestEntityTooLarge:
			return domain.NewFailure(
				domain.CodePayloadTooLarge,
				domain.KindConfig,
				"audio file exceeds the API upload limit",
				err,
			).WithHint("Split the recording or use the local engine for long audio.")
		case http.StatusTooManyRequests:
			return domain.TransientFailure(domain.CodeRateLimited, "transcription API rate limit hit", err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return domain.TransientFailure(domain.CodeRemoteError,
					fmt.Sprintf("transcription API error: %s", apiErr.Message), err)
			}
			return domain.NewFailure(domain.CodeRemoteError, domain.KindInternal,
				fmt.Sprintf("transcription API error: %s", apiErr.Message), err)
		}
	}

	// Anything without an API status is a transport-level fault.
	return domain.TransientFailure(domain.CodeRemoteError, "transcription request failed", err)
}
