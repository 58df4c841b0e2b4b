// Package pipeline drives one transcription job through its state
// machine: validating, transcribing, analyzing, saving. All retry and
// continue decisions live here; the components below raise typed
// failures and never retry on their own.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/analyze"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/assets"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/audio"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/config"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/engine"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/jobs"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/note"
)

// Request describes one transcription job. Immutable once Run starts.
type Request struct {
	SourcePath   string
	Mode         domain.Mode
	ModelID      string
	Language     string
	Threads      int
	Diarize      bool
	Instructions string
	Tags         []string
}

// Result reports the terminal job state and, on completion, the saved
// note path.
type Result struct {
	Job      domain.Job
	NotePath string
}

type audioNormalizer interface {
	Normalize(ctx context.Context, sourcePath string, onProgress func(float64)) (*audio.NormalizedAudio, error)
}

type assetStore interface {
	Installed(assetID string) bool
	InstallPath(assetID string) (string, error)
}

type transcriptAnalyzer interface {
	Analyze(ctx context.Context, transcriptText, customInstructions string) (*domain.AnalysisResult, error)
}

// Orchestrator executes jobs one at a time per Run call. Separate Run
// calls are independent and may proceed concurrently; they share no
// mutable state.
type Orchestrator struct {
	normalizer   audioNormalizer
	localEngine  engine.Transcriber
	remoteEngine engine.Transcriber
	analyzer     transcriptAnalyzer
	assembler    note.Assembler
	assets       assetStore
	credentials  func() config.Credentials
	enginePath   string
	bus          *jobs.EventBus
	history      *jobs.History
	lookPath     func(string) (string, error)
	stat         func(string) (os.FileInfo, error)
	newID        func() string
	logger       *slog.Logger
}

// NewOrchestrator wires the production pipeline from settings.
func NewOrchestrator(
	settings domain.Settings,
	store *assets.Manager,
	bus *jobs.EventBus,
	history *jobs.History,
	logger *slog.Logger,
) *Orchestrator {
	creds := config.LoadCredentials()
	return &Orchestrator{
		normalizer:   audio.NewNormalizer(logger),
		localEngine:  engine.NewLocalEngine(settings.EnginePath, logger),
		remoteEngine: engine.NewRemoteEngine(creds.APIKey, logger),
		analyzer:     analyze.NewAnalyzer(creds.APIKey, logger),
		assembler:    note.NewMarkdownAssembler(settings.OutputDir, logger),
		assets:       store,
		credentials:  func() config.Credentials { return creds },
		enginePath:   settings.EnginePath,
		bus:          bus,
		history:      history,
		lookPath:     exec.LookPath,
		stat:         os.Stat,
		newID:        uuid.NewString,
		logger:       logger,
	}
}

// NewOrchestratorForTests constructs an orchestrator with injectable
// collaborators.
func NewOrchestratorForTests(
	normalizer audioNormalizer,
	localEngine engine.Transcriber,
	remoteEngine engine.Transcriber,
	analyzer transcriptAnalyzer,
	assembler note.Assembler,
	store assetStore,
	credentials func() config.Credentials,
	enginePath string,
	bus *jobs.EventBus,
	history *jobs.History,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		normalizer:   normalizer,
		localEngine:  localEngine,
		remoteEngine: remoteEngine,
		analyzer:     analyzer,
		assembler:    assembler,
		assets:       store,
		credentials:  credentials,
		enginePath:   enginePath,
		bus:          bus,
		history:      history,
		lookPath:     lookPath,
		stat:         stat,
		newID:        uuid.NewString,
		logger:       logger,
	}
}

// Run executes the full pipeline for one request. It always returns a
// job in a terminal state; err is non-nil for Failed and Cancelled.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	job := domain.Job{ID: o.newID(), State: domain.JobStateValidating}
	o.publishState(job)
	o.logger.Info("job started",
		"jobId", job.ID, "source", req.SourcePath, "mode", string(req.Mode))

	if err := o.validate(req); err != nil {
		return o.fail(req, job, err)
	}

	o.setState(&job, domain.JobStateTranscribing)
	normalized, err := o.normalizer.Normalize(ctx, req.SourcePath, func(p float64) {
		o.publishProgress(job, p)
	})
	if err != nil {
		return o.finishEarly(req, job, err)
	}
	defer func() {
		if cleanupErr := normalized.Cleanup(); cleanupErr != nil {
			o.logger.Warn("temporary audio cleanup failed", "error", cleanupErr)
		}
	}()

	transcript, err := o.transcribe(ctx, job, req, normalized.Path)
	if err != nil {
		return o.finishEarly(req, job, err)
	}
	if transcript.Empty() {
		return o.fail(req, job, domain.NewFailure(domain.CodeEmptyTranscript, domain.KindInternal,
			"engine produced no usable transcript text", nil))
	}

	o.setState(&job, domain.JobStateAnalyzing)
	analysis, analysisFailure := o.analyze(ctx, job, transcript, req.Instructions)
	if ctx.Err() != nil {
		return o.cancel(req, job)
	}

	o.setState(&job, domain.JobStateSaving)
	doc := note.Document{
		SourceName:      req.SourcePath,
		Duration:        transcript.Duration,
		Language:        transcript.Language,
		SpeakerCount:    transcript.SpeakerCount(),
		Tags:            req.Tags,
		Transcript:      *transcript,
		Analysis:        analysis,
		AnalysisFailure: analysisFailure,
	}
	notePath, err := o.assembler.Save(ctx, doc)
	if err != nil {
		return o.finishEarly(req, job, err)
	}

	o.setState(&job, domain.JobStateComplete)
	o.bus.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeResult,
		State:    job.State,
		NotePath: notePath,
	})
	o.record(req, job, notePath)
	o.logger.Info("job complete", "jobId", job.ID, "note", notePath)
	return Result{Job: job, NotePath: notePath}, nil
}

// validate checks job preconditions in order. Every failure here is a
// configuration error: terminal, never retried.
func (o *Orchestrator) validate(req Request) error {
	if _, err := o.stat(req.SourcePath); err != nil {
		return domain.ConfigFailure(domain.CodeInputMissing,
			fmt.Sprintf("cannot access audio source: %s", req.SourcePath),
			"check that the file exists and is readable")
	}

	switch req.Mode {
	case domain.ModeLocal:
		if err := o.checkEngineBinary(); err != nil {
			return err
		}
		if !o.assets.Installed(req.ModelID) {
			return domain.ConfigFailure(domain.CodeModelMissing,
				fmt.Sprintf("model %q is not installed", req.ModelID),
				fmt.Sprintf("run `transcriber models pull %s` first", req.ModelID))
		}
	case domain.ModeRemote:
		creds := o.credentials()
		if !creds.Present() {
			return domain.ConfigFailure(domain.CodeCredentialMissing,
				"no API key configured",
				"set OPENAI_API_KEY in the environment or a .env file")
		}
		if !creds.Plausible() {
			return domain.ConfigFailure(domain.CodeCredentialInvalid,
				"API key does not look like a valid credential",
				"check OPENAI_API_KEY for truncation or stray whitespace")
		}
	default:
		return domain.ConfigFailure(domain.CodeInputMissing,
			fmt.Sprintf("unknown transcription mode %q", string(req.Mode)), "")
	}
	return nil
}

func (o *Orchestrator) checkEngineBinary() error {
	missing := func(err error) error {
		return domain.ConfigFailure(domain.CodeEngineMissing,
			fmt.Sprintf("transcription engine %q not found", o.enginePath),
			"install whisper.cpp and point enginePath at the binary")
	}

	if strings.ContainsRune(o.enginePath, filepath.Separator) {
		if _, err := o.stat(o.enginePath); err != nil {
			return missing(err)
		}
		return nil
	}
	if _, err := o.lookPath(o.enginePath); err != nil {
		return missing(err)
	}
	return nil
}

// transcribe invokes the selected engine, retrying exactly once on
// transient failures. Configuration failures and cancellation are never
// retried.
func (o *Orchestrator) transcribe(ctx context.Context, job domain.Job, req Request, audioPath string) (*domain.Transcript, error) {
	eng := o.remoteEngine
	opts := engine.Options{
		Language: req.Language,
		Threads:  req.Threads,
		Diarize:  req.Diarize,
		OnProgress: func(p float64) {
			o.publishProgress(job, p)
		},
	}
	if req.Mode == domain.ModeLocal {
		eng = o.localEngine
		modelPath, err := o.assets.InstallPath(req.ModelID)
		if err != nil {
			return nil, err
		}
		opts.ModelPath = modelPath
	}

	transcript, err := eng.Transcribe(ctx, audioPath, opts)
	if err == nil {
		return transcript, nil
	}
	if domain.KindOf(err) != domain.KindTransient {
		return nil, err
	}

	o.logger.Warn("transcription failed, retrying once", "jobId", job.ID, "error", err)
	o.bus.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeLog,
		State:   job.State,
		Message: "transcription hit a transient fault, retrying",
	})
	return eng.Transcribe(ctx, audioPath, opts)
}

// analyze runs the analysis step with one retry. Failure here degrades
// the document instead of failing the job; the reason is returned for
// inclusion in the note.
func (o *Orchestrator) analyze(ctx context.Context, job domain.Job, transcript *domain.Transcript, instructions string) (*domain.AnalysisResult, string) {
	result, err := o.analyzer.Analyze(ctx, transcript.FullText(), instructions)
	if err == nil {
		return result, ""
	}
	if domain.KindOf(err) == domain.KindCancelled || ctx.Err() != nil {
		return nil, ""
	}

	o.logger.Warn("analysis failed, retrying once", "jobId", job.ID, "error", err)
	result, err = o.analyzer.Analyze(ctx, transcript.FullText(), instructions)
	if err == nil {
		return result, ""
	}
	if domain.KindOf(err) == domain.KindCancelled || ctx.Err() != nil {
		return nil, ""
	}

	o.logger.Warn("analysis failed twice, saving transcript-only note",
		"jobId", job.ID, "error", err)
	o.bus.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeLog,
		State:   job.State,
		Message: fmt.Sprintf("analysis unavailable: %v", err),
	})
	return nil, err.Error()
}

// finishEarly routes an error to Cancelled or Failed.
func (o *Orchestrator) finishEarly(req Request, job domain.Job, err error) (Result, error) {
	if domain.KindOf(err) == domain.KindCancelled {
		return o.cancel(req, job)
	}
	return o.fail(req, job, err)
}

func (o *Orchestrator) fail(req Request, job domain.Job, err error) (Result, error) {
	job.FailureReason = err.Error()
	o.setState(&job, domain.JobStateFailed)
	o.bus.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeError,
		State:   job.State,
		Message: err.Error(),
	})
	o.record(req, job, "")
	o.logger.Error("job failed", "jobId", job.ID, "error", err)
	return Result{Job: job}, err
}

func (o *Orchestrator) cancel(req Request, job domain.Job) (Result, error) {
	o.setState(&job, domain.JobStateCancelled)
	o.record(req, job, "")
	o.logger.Info("job cancelled", "jobId", job.ID)
	return Result{Job: job}, domain.CancelledFailure("job cancelled")
}

func (o *Orchestrator) record(req Request, job domain.Job, notePath string) {
	o.history.Add(jobs.HistoryEntry{
		JobID:      job.ID,
		SourceName: filepath.Base(req.SourcePath),
		State:      job.State,
		NotePath:   notePath,
	})
}

func (o *Orchestrator) setState(job *domain.Job, to domain.JobState) {
	if !validTransition(job.State, to) {
		o.logger.Error("invalid state transition", "from", string(job.State), "to", string(to))
	}
	job.State = to
	o.publishState(*job)
}

func (o *Orchestrator) publishState(job domain.Job) {
	o.bus.Publish(jobs.Event{
		JobID:   job.ID,
		Type:    jobs.EventTypeState,
		State:   job.State,
		Message: job.FailureReason,
	})
}

func (o *Orchestrator) publishProgress(job domain.Job, p float64) {
	o.bus.Publish(jobs.Event{
		JobID:    job.ID,
		Type:     jobs.EventTypeProgress,
		State:    job.State,
		Progress: p,
	})
}

// validTransition enforces the allowed state machine edges. Cancelled
// and Failed are reachable from every non-terminal state.
func validTransition(from, to domain.JobState) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.JobStateCancelled || to == domain.JobStateFailed {
		return true
	}
	switch from {
	case domain.JobStateValidating:
		return to == domain.JobStateTranscribing
	case domain.JobStateTranscribing:
		return to == domain.JobStateAnalyzing
	case domain.JobStateAnalyzing:
		return to == domain.JobStateSaving
	case domain.JobStateSaving:
		return to == domain.JobStateComplete
	default:
		return false
	}
}
