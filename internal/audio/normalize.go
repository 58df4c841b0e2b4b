package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)
	positionPattern = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// NormalizedAudio is the engine-ready artifact produced by Normalize.
// When Temporary is true the caller owns the artifact and must call
// Cleanup after use, on both success and failure exit paths.
type NormalizedAudio struct {
	Path      string
	Temporary bool
	Duration  float64
	tempDir   string
}

// NewTemporaryArtifact wraps a converted file whose parent directory
// must be removed after use.
func NewTemporaryArtifact(path, tempDir string, duration float64) *NormalizedAudio {
	return &NormalizedAudio{Path: path, Temporary: true, Duration: duration, tempDir: tempDir}
}

// Cleanup removes the temporary conversion artifact, if any.
func (n *NormalizedAudio) Cleanup() error {
	if n == nil || n.tempDir == "" {
		return nil
	}

	if err := os.RemoveAll(n.tempDir); err != nil {
		return err
	}
	n.tempDir = ""
	return nil
}

// streamRunner executes one command and forwards diagnostic output
// lines as they become available.
type streamRunner interface {
	Run(ctx context.Context, onLine func(string), name string, args ...string) (exitCode int, err error)
}

// execStreamRunner runs commands via os/exec, scanning stderr where
// ffmpeg writes its banner and progress stream.
type execStreamRunner struct{}

func (execStreamRunner) Run(ctx context.Context, onLine func(string), name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCRorLF)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	return exitCode, err
}

// scanCRorLF splits on both \r and \n because ffmpeg rewrites its
// progress line with carriage returns.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Normalizer converts arbitrary input audio into the fixed format the
// local recognition engine requires.
type Normalizer struct {
	toolPath  string
	runner    streamRunner
	lookPath  func(string) (string, error)
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	probe     func(path string) (Info, error)
	logger    *slog.Logger
}

// NewNormalizer constructs the production normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{
		toolPath:  "ffmpeg",
		runner:    execStreamRunner{},
		lookPath:  exec.LookPath,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
		probe:     Probe,
		logger:    logger,
	}
}

// Normalize returns an engine-ready artifact for the source audio.
// Already-conformant sources are returned unchanged with no conversion
// tool invocation. Progress, when the source duration is known, is
// reported as a ratio in [0,1]; when the duration cannot be determined
// the callback is simply not invoked.
func (n *Normalizer) Normalize(ctx context.Context, sourcePath string, onProgress func(float64)) (*NormalizedAudio, error) {
	info, err := n.probe(sourcePath)
	if err != nil {
		return nil, err
	}
	if info.Conformant() {
		n.logger.Debug("audio already conformant, skipping conversion", "path", sourcePath)
		return &NormalizedAudio{Path: sourcePath, Duration: info.Duration}, nil
	}

	toolPath, err := n.lookPath(n.toolPath)
	if err != nil {
		return nil, failConversionUnavailable(n.toolPath, err)
	}

	tempDir, err := n.mkdirTemp("", "transcriber-*")
	if err != nil {
		return nil, fmt.Errorf("create temporary workspace: %w", err)
	}
	outPath := filepath.Join(tempDir, "normalized-16k-mono.wav")

	args := buildConversionArgs(sourcePath, outPath)
	n.logger.Debug("converting audio", "tool", toolPath, "source", sourcePath)

	var totalSeconds float64
	var tail []string
	exitCode, runErr := n.runner.Run(ctx, func(line string) {
		tail = appendTail(tail, line)
		if totalSeconds == 0 {
			if m := durationPattern.FindStringSubmatch(line); m != nil {
				totalSeconds = clockToSeconds(m[1], m[2], m[3])
				return
			}
		}
		if totalSeconds > 0 && onProgress != nil {
			if m := positionPattern.FindStringSubmatch(line); m != nil {
				ratio := clockToSeconds(m[1], m[2], m[3]) / totalSeconds
				if ratio > 1 {
					ratio = 1
				}
				onProgress(ratio)
			}
		}
	}, toolPath, args...)

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = n.removeAll(tempDir)
		return nil, ctxErr
	}
	if runErr != nil {
		_ = n.removeAll(tempDir)
		return nil, failConversionFailed(exitCode, tail, runErr)
	}
	if _, err := n.stat(outPath); err != nil {
		_ = n.removeAll(tempDir)
		return nil, failConversionNoOutput(tail, err)
	}

	return NewTemporaryArtifact(outPath, tempDir, totalSeconds), nil
}

// buildConversionArgs builds CLI args for mono 16k PCM WAV output.
func buildConversionArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", strconv.Itoa(targetChannels),
		"-ar", strconv.Itoa(targetSampleRate),
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// appendTail keeps the last few diagnostic lines for error reporting.
func appendTail(tail []string, line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return tail
	}
	tail = append(tail, line)
	if len(tail) > 12 {
		tail = tail[len(tail)-12:]
	}
	return tail
}

func clockToSeconds(hours, minutes, seconds string) float64 {
	h, _ := strconv.ParseFloat(hours, 64)
	m, _ := strconv.ParseFloat(minutes, 64)
	s, _ := strconv.ParseFloat(seconds, 64)
	return h*3600 + m*60 + s
}
