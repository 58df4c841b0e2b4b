package domain

import "strings"

// Mode selects how transcription is performed.
type Mode string

const (
	// ModeLocal runs the whisper.cpp engine as a subprocess.
	ModeLocal Mode = "local"
	// ModeRemote uploads audio to the hosted transcription API.
	ModeRemote Mode = "remote"
)

// JobState tracks each pipeline stage for a single transcription job.
type JobState string

const (
	JobStateValidating   JobState = "validating"
	JobStateTranscribing JobState = "transcribing"
	JobStateAnalyzing    JobState = "analyzing"
	JobStateSaving       JobState = "saving"
	JobStateComplete     JobState = "complete"
	JobStateCancelled    JobState = "cancelled"
	JobStateFailed       JobState = "failed"
)

// Terminal reports whether a state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateComplete, JobStateCancelled, JobStateFailed:
		return true
	default:
		return false
	}
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	Mode       Mode   `json:"mode"`
	ModelID    string `json:"modelId"`
	ModelDir   string `json:"modelDir"`
	EnginePath string `json:"enginePath"`
	OutputDir  string `json:"outputDir"`
	Language   string `json:"language"`
	Threads    int    `json:"threads"`
}

// Job stores identity and lifecycle status for one transcription run.
type Job struct {
	ID            string   `json:"id"`
	State         JobState `json:"state"`
	FailureReason string   `json:"failureReason,omitempty"`
}

// TranscriptSegment is one timestamped span of transcribed speech.
// Start and End are seconds from the beginning of the audio. Speaker is
// nil when diarization was not requested or produced no label for the
// span; a non-nil zero value means "labelled as speaker 0".
type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker *int    `json:"speaker,omitempty"`
}

// Transcript is the normalized output of an engine invocation.
type Transcript struct {
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language"`
	Duration float64             `json:"duration"`
}

// FullText joins segment texts into one plain transcript string.
func (t *Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Empty reports whether the transcript carries no usable text.
func (t *Transcript) Empty() bool {
	return t == nil || t.FullText() == ""
}

// SpeakerCount returns the number of distinct speaker labels present.
func (t *Transcript) SpeakerCount() int {
	seen := map[int]struct{}{}
	for _, seg := range t.Segments {
		if seg.Speaker != nil {
			seen[*seg.Speaker] = struct{}{}
		}
	}
	return len(seen)
}

// AnalysisResult holds the AI-derived document sections. It is optional
// in the final document: analysis failure after a successful
// transcription degrades the note instead of discarding it.
type AnalysisResult struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	ActionItems []string `json:"actionItems"`
	FollowUps   []string `json:"followUps"`
}
