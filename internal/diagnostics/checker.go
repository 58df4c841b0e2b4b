// Package diagnostics runs environment checks for the doctor command.
package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/config"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath    func(string) (string, error)
	stat        func(string) (os.FileInfo, error)
	mkdirAll    func(string, os.FileMode) error
	createTemp  func(string, string) (*os.File, error)
	remove      func(string) error
	credentials func() config.Credentials
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:    exec.LookPath,
		stat:        os.Stat,
		mkdirAll:    os.MkdirAll,
		createTemp:  os.CreateTemp,
		remove:      os.Remove,
		credentials: config.LoadCredentials,
	}
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
	credentials func() config.Credentials,
) *Checker {
	return &Checker{
		lookPath:    lookPath,
		stat:        stat,
		mkdirAll:    mkdirAll,
		createTemp:  createTemp,
		remove:      remove,
		credentials: credentials,
	}
}

// Run executes all checks and returns a combined report. Checks that
// only matter for the other mode still run; their result is
// informational there.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg"),
		c.checkEngine(settings.EnginePath),
		c.checkModel(settings.ModelDir, settings.ModelID),
		c.checkOutputDir(settings.OutputDir),
		c.checkCredentials(),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable is on PATH.
func (c *Checker) checkTool(name string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		return domain.DiagnosticItem{
			ID:      "tool_" + name,
			Name:    name,
			Status:  domain.DiagnosticStatusFail,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    "Install it and ensure the binary is available on PATH before starting a transcription job.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + name,
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkEngine verifies the configured engine binary, either as a path
// or a PATH lookup.
func (c *Checker) checkEngine(enginePath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "engine_binary",
		Name: "Transcription engine",
	}

	if strings.TrimSpace(enginePath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Engine path is empty."
		item.Hint = "Set enginePath to the whisper.cpp binary."
		return item
	}

	if strings.ContainsRune(enginePath, filepath.Separator) {
		if _, err := c.stat(enginePath); err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Engine binary not found: %s", enginePath)
			item.Hint = "Build or install whisper.cpp and point enginePath at the binary."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Engine binary found: %s", enginePath)
		return item
	}

	path, err := c.lookPath(enginePath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine not found in PATH: %s", enginePath)
		item.Hint = "Build or install whisper.cpp and ensure the binary is on PATH."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModel verifies the configured model preset is installed.
func (c *Checker) checkModel(modelDir, modelID string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model",
		Name: "Speech model",
	}

	model, ok := domain.FindModel(modelID)
	if !ok {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Unknown model preset: %s", modelID)
		item.Hint = "Run `transcriber models list` to see available presets."
		return item
	}

	modelPath := filepath.Join(modelDir, model.FileName)
	info, err := c.stat(modelPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Model %q is not installed.", modelID)
		} else {
			item.Message = fmt.Sprintf("Cannot access model file: %s", modelPath)
		}
		item.Status = domain.DiagnosticStatusFail
		item.Hint = fmt.Sprintf("Run `transcriber models pull %s` to download it.", modelID)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model file found: %s (%d bytes)", modelPath, info.Size())
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
	}

	if strings.TrimSpace(outputDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Output directory is empty."
		item.Hint = "Set an output directory where notes can be written."
		return item
	}

	if err := c.mkdirAll(outputDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create output directory: %s", outputDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(outputDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Output directory is not writable: %s", outputDir)
		item.Hint = "Choose a writable directory for notes."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// checkCredentials reports API key presence and shape. Only remote mode
// needs a key, so a missing one is a pass with an informational note.
func (c *Checker) checkCredentials() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "api_key",
		Name: "API key",
	}

	creds := c.credentials()
	switch {
	case !creds.Present():
		item.Status = domain.DiagnosticStatusPass
		item.Message = "No API key configured; remote transcription and analysis are unavailable."
		item.Hint = "Set OPENAI_API_KEY to enable remote mode."
	case !creds.Plausible():
		item.Status = domain.DiagnosticStatusFail
		item.Message = "API key is present but does not look like a valid credential."
		item.Hint = "Check OPENAI_API_KEY for truncation or stray whitespace."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = "API key configured."
	}
	return item
}
