// Package engine invokes a speech-recognition engine, either a local
// whisper.cpp style subprocess or a hosted transcription API, behind a
// single capability interface.
package engine

import (
	"context"
	"strings"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// Options carries per-job transcription parameters.
type Options struct {
	// ModelPath is the local model file, required by the local engine.
	ModelPath string
	// Language is an ISO 639-1 hint; empty or "auto" means detect.
	Language string
	// Threads limits subprocess CPU usage; <= 0 uses the engine default.
	Threads int
	// Diarize requests speaker labels. Diarization is an optional
	// capability: an engine that does not implement it accepts the
	// request and returns segments without speaker labels.
	Diarize bool
	// OnProgress receives a monotonic estimate in [0,1]. For the local
	// engine no precise fractional progress exists, so the value is an
	// approximation incremented on output events and capped below 1
	// until completion; never treat it as an exact measurement.
	OnProgress func(float64)
}

// Transcriber converts prepared audio into a transcript. In-flight
// work is cancelled through the context; implementations kill their
// subprocess or abort their request promptly when it fires.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*domain.Transcript, error)
}

// normalizeLanguage maps "auto" and empty language to no override.
func normalizeLanguage(raw string) string {
	lang := strings.TrimSpace(raw)
	if lang == "" || strings.EqualFold(lang, "auto") {
		return ""
	}
	return lang
}
