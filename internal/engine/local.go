package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// Progress for the local engine is approximated from output events:
// start at a small floor, bump per line, cap below completion.
const (
	progressFloor   = 0.05
	progressStep    = 0.01
	progressCeiling = 0.95
)

// Windows reports a missing runtime DLL through NTSTATUS exit codes in
// the 0xC0000135 family rather than a normal failure exit.
const (
	ntStatusDLLNotFound   = 0xC0000135
	ntStatusEntryNotFound = 0xC0000139
)

// localRunner abstracts subprocess execution for testability. Output
// lines are forwarded as they arrive so progress can be approximated.
type localRunner interface {
	Run(ctx context.Context, onLine func(string), name string, args ...string) (localResult, error)
}

type localResult struct {
	Output   string
	Stderr   string
	ExitCode int
}

// execLocalRunner executes the engine via os/exec, streaming stdout.
type execLocalRunner struct{}

func (execLocalRunner) Run(ctx context.Context, onLine func(string), name string, args ...string) (localResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return localResult{ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return localResult{ExitCode: -1}, err
	}

	var output strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		output.WriteString(line)
		output.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}

	err = cmd.Wait()
	result := localResult{
		Output: output.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// LocalEngine runs the recognition engine binary as a subprocess.
type LocalEngine struct {
	binaryPath string
	runner     localRunner
	stat       func(string) (os.FileInfo, error)
	logger     *slog.Logger
}

// NewLocalEngine constructs the production local engine invoker.
func NewLocalEngine(binaryPath string, logger *slog.Logger) *LocalEngine {
	return &LocalEngine{
		binaryPath: binaryPath,
		runner:     execLocalRunner{},
		stat:       os.Stat,
		logger:     logger,
	}
}

// Transcribe spawns the engine and parses its output. The orchestrator
// checks engine/model presence during validation; the checks here only
// guard direct library use.
func (e *LocalEngine) Transcribe(ctx context.Context, audioPath string, opts Options) (*domain.Transcript, error) {
	if _, err := e.stat(e.binaryPath); err != nil {
		if _, lookErr := exec.LookPath(e.binaryPath); lookErr != nil {
			return nil, failEngineMissing(e.binaryPath, err)
		}
	}
	if opts.ModelPath == "" {
		return nil, failModelMissing("", errors.New("model path is empty"))
	}
	if _, err := e.stat(opts.ModelPath); err != nil {
		return nil, failModelMissing(opts.ModelPath, err)
	}

	args := buildEngineArgs(opts.ModelPath, audioPath, opts.Language, opts.Threads)
	e.logger.Debug("invoking recognition engine", "binary", e.binaryPath, "audio", audioPath)

	progress := progressFloor
	emit := func(string) {
		if opts.OnProgress == nil {
			return
		}
		if progress < progressCeiling {
			progress += progressStep
			if progress > progressCeiling {
				progress = progressCeiling
			}
		}
		opts.OnProgress(progress)
	}

	result, runErr := e.runner.Run(ctx, emit, e.binaryPath, args...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if runErr != nil {
		if isMissingRuntimeExit(result.ExitCode) {
			return nil, failRuntimeDepMissing(result.ExitCode, result.Stderr)
		}
		return nil, failEngineCrashed(result.ExitCode, result.Stderr, runErr)
	}

	transcript := parseEngineOutput(result.Output + "\n" + result.Stderr)
	if opts.OnProgress != nil {
		opts.OnProgress(1)
	}
	return transcript, nil
}

// buildEngineArgs builds whisper.cpp style args with JSON output.
func buildEngineArgs(modelPath, audioPath, language string, threads int) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-oj",
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}

// enginePayload mirrors the engine's structured JSON output.
type enginePayload struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// parseEngineOutput extracts the structured payload from combined
// output, tolerant of surrounding log noise. When no payload parses,
// the raw output becomes a single unsegmented transcript.
func parseEngineOutput(raw string) *domain.Transcript {
	if payload, ok := extractPayload(raw); ok {
		segments := make([]domain.TranscriptSegment, 0, len(payload.Transcription))
		var duration float64
		for _, item := range payload.Transcription {
			seg := domain.TranscriptSegment{
				Start: float64(item.Offsets.From) / 1000,
				End:   float64(item.Offsets.To) / 1000,
				Text:  strings.TrimSpace(item.Text),
			}
			if seg.Text == "" {
				continue
			}
			segments = append(segments, seg)
			if seg.End > duration {
				duration = seg.End
			}
		}
		if len(segments) > 0 {
			sort.SliceStable(segments, func(i, j int) bool {
				return segments[i].Start < segments[j].Start
			})
			return &domain.Transcript{
				Segments: segments,
				Language: payload.Result.Language,
				Duration: duration,
			}
		}
	}

	text := strings.TrimSpace(stripPayload(raw))
	segments := []domain.TranscriptSegment{}
	if text != "" {
		segments = append(segments, domain.TranscriptSegment{Text: text})
	}
	return &domain.Transcript{Segments: segments}
}

// extractPayload finds the outermost JSON object in noisy output.
func extractPayload(raw string) (enginePayload, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return enginePayload{}, false
	}

	var payload enginePayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return enginePayload{}, false
	}
	if len(payload.Transcription) == 0 {
		return enginePayload{}, false
	}
	return payload, true
}

// stripPayload removes an unparsed JSON blob so the fallback segment
// does not contain raw braces from a broken payload.
func stripPayload(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[:start] + raw[end+1:]
	}
	return raw
}

func isMissingRuntimeExit(exitCode int) bool {
	code := uint32(exitCode)
	return code == ntStatusDLLNotFound || code == ntStatusEntryNotFound
}

func failEngineMissing(binary string, err error) error {
	return domain.NewFailure(
		domain.CodeEngineMissing,
		domain.KindConfig,
		fmt.Sprintf("recognition engine not found: %s", binary),
		err,
	).WithHint("Install whisper.cpp and point the engine path setting at the binary.")
}

func failModelMissing(modelPath string, err error) error {
	return domain.NewFailure(
		domain.CodeModelMissing,
		domain.KindConfig,
		fmt.Sprintf("model file not available: %s", modelPath),
		err,
	).WithHint("Download the configured model with `transcriber models pull`.")
}

func failRuntimeDepMissing(exitCode int, stderr string) error {
	return domain.NewFailure(
		domain.CodeRuntimeDepMissing,
		domain.KindConfig,
		fmt.Sprintf("engine exited with status 0x%X, a required runtime library is missing", uint32(exitCode)),
		nil,
	).WithHint("Reinstall the engine or its runtime redistributable; this is not a crash of the engine itself. " + strings.TrimSpace(stderr))
}

func failEngineCrashed(exitCode int, stderr string, err error) error {
	return domain.NewFailure(
		domain.CodeEngineCrashed,
		domain.KindInternal,
		fmt.Sprintf("engine exited with code %d: %s", exitCode, strings.TrimSpace(stderr)),
		err,
	)
}
