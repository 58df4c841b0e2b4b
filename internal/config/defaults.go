package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

// DefaultSettings returns baseline local configuration for first run.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Mode:       domain.ModeLocal,
		ModelID:    "base",
		ModelDir:   filepath.Join(homeDir, ".transcriber", "models"),
		EnginePath: "whisper-cli",
		OutputDir:  filepath.Join(homeDir, "Documents", "Transcripts"),
		Language:   "auto",
		Threads:    defaultThreads(),
	}
}

// Normalize trims user inputs and fills defaults for empty fields.
func Normalize(settings domain.Settings) domain.Settings {
	settings.ModelID = strings.TrimSpace(settings.ModelID)
	settings.ModelDir = strings.TrimSpace(settings.ModelDir)
	settings.EnginePath = strings.TrimSpace(settings.EnginePath)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Language = strings.TrimSpace(settings.Language)
	if settings.Mode == "" {
		settings.Mode = domain.ModeLocal
	}
	if settings.ModelID == "" {
		settings.ModelID = "base"
	}
	if settings.Language == "" {
		settings.Language = "auto"
	}
	if settings.Threads <= 0 {
		settings.Threads = defaultThreads()
	}
	return settings
}

func defaultThreads() int {
	threads := runtime.NumCPU() / 2
	if threads < 1 {
		threads = 1
	}
	if threads > 8 {
		threads = 8
	}
	return threads
}
