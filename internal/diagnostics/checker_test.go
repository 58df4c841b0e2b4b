package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/config"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

func plausibleCreds() config.Credentials {
	return config.Credentials{APIKey: "sk-test-key-0123456789abcdef"}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	modelFile := filepath.Join(modelDir, "ggml-base.bin")
	if err := os.WriteFile(modelFile, []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	outputDir := filepath.Join(root, "output")
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		plausibleCreds,
	)

	report := checker.Run(domain.Settings{
		EnginePath: "whisper-cli",
		ModelDir:   modelDir,
		ModelID:    "base",
		OutputDir:  outputDir,
		Language:   "auto",
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		plausibleCreds,
	)

	report := checker.Run(domain.Settings{
		EnginePath: "whisper-cli",
		ModelDir:   "/path/that/does/not/exist",
		ModelID:    "base",
		OutputDir:  "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "engine_binary", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "model", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "output_dir", domain.DiagnosticStatusFail)
}

// TestCheckerRunUnknownModelPresetFails validates catalog lookup.
func TestCheckerRunUnknownModelPresetFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		plausibleCreds,
	)

	report := checker.Run(domain.Settings{
		EnginePath: "whisper-cli",
		ModelDir:   t.TempDir(),
		ModelID:    "gigantic",
		OutputDir:  t.TempDir(),
	})

	assertStatusByID(t, report, "model", domain.DiagnosticStatusFail)
}

// TestCheckerRunMissingCredentialIsInformational verifies remote mode
// requirements do not fail a local-only setup.
func TestCheckerRunMissingCredentialIsInformational(t *testing.T) {
	root := t.TempDir()
	modelDir := filepath.Join(root, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		t.Fatalf("mkdir models: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("stub"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		func() config.Credentials { return config.Credentials{} },
	)

	report := checker.Run(domain.Settings{
		EnginePath: "whisper-cli",
		ModelDir:   modelDir,
		ModelID:    "base",
		OutputDir:  filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("missing key must not fail diagnostics, got %+v", report.Items)
	}
	assertStatusByID(t, report, "api_key", domain.DiagnosticStatusPass)
}

// TestCheckerRunImplausibleCredentialFails validates key shape check.
func TestCheckerRunImplausibleCredentialFails(t *testing.T) {
	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
		func() config.Credentials { return config.Credentials{APIKey: "short"} },
	)

	report := checker.Run(domain.Settings{
		EnginePath: "whisper-cli",
		ModelDir:   t.TempDir(),
		ModelID:    "base",
		OutputDir:  t.TempDir(),
	})

	assertStatusByID(t, report, "api_key", domain.DiagnosticStatusFail)
}

// assertStatusByID finds the diagnostic item and compares its status.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: status %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("item %s not found in report", id)
}
