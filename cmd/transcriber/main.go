// Command transcriber turns audio recordings into markdown notes with
// an optional AI analysis section, using either a local whisper.cpp
// binary or the hosted transcription API.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/assets"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/config"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/diagnostics"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/jobs"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/logging"
	"github.com/tzamtzis/obsidian-transcription-plugin/internal/pipeline"
)

type cliOptions struct {
	configPath string
	logLevel   string
	logFile    string
	logJSON    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var failure *domain.Failure
		if errors.As(err, &failure) && failure.Hint != "" {
			fmt.Fprintln(os.Stderr, "Hint:", failure.Hint)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "transcriber",
		Short:         "Transcribe audio recordings into markdown notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "settings file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	root.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit structured JSON logs")

	root.AddCommand(
		newTranscribeCommand(opts),
		newModelsCommand(opts),
		newDoctorCommand(opts),
	)
	return root
}

func defaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".transcriber", "settings.json")
}

func (o *cliOptions) logger() (*slog.Logger, error) {
	format := "text"
	if o.logJSON {
		format = "json"
	}
	return logging.New(logging.Config{
		Level:  o.logLevel,
		Format: format,
		File:   o.logFile,
	})
}

func (o *cliOptions) settings() (domain.Settings, error) {
	return config.NewJSONStore(o.configPath).Load()
}

func newTranscribeCommand(opts *cliOptions) *cobra.Command {
	var (
		mode         string
		modelID      string
		language     string
		threads      int
		diarize      bool
		instructions string
		tags         []string
		outputDir    string
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe one audio file and save a markdown note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			settings, err := opts.settings()
			if err != nil {
				return err
			}
			if mode != "" {
				settings.Mode = domain.Mode(mode)
			}
			if modelID != "" {
				settings.ModelID = modelID
			}
			if language != "" {
				settings.Language = language
			}
			if threads > 0 {
				settings.Threads = threads
			}
			if outputDir != "" {
				settings.OutputDir = outputDir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := jobs.NewEventBus(500)
			bus.Subscribe(printEvent(cmd))

			store := assets.NewManager(settings.ModelDir, logger)
			history := jobs.NewHistory(20)
			orch := pipeline.NewOrchestrator(settings, store, bus, history, logger)

			result, err := orch.Run(ctx, pipeline.Request{
				SourcePath:   args[0],
				Mode:         settings.Mode,
				ModelID:      settings.ModelID,
				Language:     settings.Language,
				Threads:      settings.Threads,
				Diarize:      diarize,
				Instructions: instructions,
				Tags:         tags,
			})
			if err != nil {
				return err
			}

			cmd.Printf("Note saved: %s\n", result.NotePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "transcription mode (local, remote)")
	cmd.Flags().StringVar(&modelID, "model", "", "model preset for local mode")
	cmd.Flags().StringVar(&language, "language", "", "language hint (ISO 639-1, or auto)")
	cmd.Flags().IntVar(&threads, "threads", 0, "subprocess thread count for local mode")
	cmd.Flags().BoolVar(&diarize, "diarize", false, "request speaker labels if the engine supports them")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra instructions for the analysis step")
	cmd.Flags().StringSliceVar(&tags, "tag", []string{"transcription"}, "tags for the note frontmatter")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for the saved note")
	return cmd
}

// printEvent renders job events as terse CLI progress lines. Progress
// is throttled to five-percent steps to keep the output readable.
func printEvent(cmd *cobra.Command) func(jobs.Event) {
	lastStep := -1
	return func(event jobs.Event) {
		switch event.Type {
		case jobs.EventTypeState:
			lastStep = -1
			cmd.Printf("[%s]\n", event.State)
		case jobs.EventTypeProgress:
			step := int(event.Progress * 20)
			if step > lastStep {
				lastStep = step
				cmd.Printf("[%s] %3.0f%%\n", event.State, event.Progress*100)
			}
		case jobs.EventTypeLog:
			cmd.Printf("[%s] %s\n", event.State, event.Message)
		case jobs.EventTypeError:
			cmd.Printf("[%s] %s\n", event.State, event.Message)
		}
	}
}

func newModelsCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage local speech model presets",
	}
	cmd.AddCommand(
		newModelsListCommand(opts),
		newModelsPullCommand(opts),
		newModelsRemoveCommand(opts),
	)
	return cmd
}

func newModelsListCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available model presets and their install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			settings, err := opts.settings()
			if err != nil {
				return err
			}

			store := assets.NewManager(settings.ModelDir, logger)
			for _, model := range store.Catalog() {
				state := "not installed"
				if model.Installed {
					state = "installed"
				}
				cmd.Printf("%-16s %-10s %-14s %s\n", model.ID, model.SizeLabel, state, model.Description)
			}
			return nil
		},
	}
}

func newModelsPullCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model-id>",
		Short: "Download a model preset into the model directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			settings, err := opts.settings()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := assets.NewManager(settings.ModelDir, logger)
			lastStep := -1
			err = store.Acquire(ctx, args[0], func(done, total int64) {
				if total <= 0 {
					return
				}
				step := int(done * 20 / total)
				if step > lastStep {
					lastStep = step
					cmd.Printf("\rdownloading %s: %3d%% (%d/%d MB)",
						args[0], done*100/total, done>>20, total>>20)
				}
			})
			cmd.Println()
			if err != nil {
				return err
			}

			path, err := store.InstallPath(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Installed: %s\n", path)
			return nil
		},
	}
}

func newModelsRemoveCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <model-id>",
		Short: "Delete an installed model preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			settings, err := opts.settings()
			if err != nil {
				return err
			}

			store := assets.NewManager(settings.ModelDir, logger)
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			cmd.Printf("Removed %s\n", args[0])
			return nil
		},
	}
}

func newDoctorCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check external tools, models, and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.settings()
			if err != nil {
				return err
			}

			report := diagnostics.NewChecker().Run(settings)
			for _, item := range report.Items {
				status := "ok"
				if item.Status == domain.DiagnosticStatusFail {
					status = "FAIL"
				}
				cmd.Printf("%-6s %-22s %s\n", status, item.Name, item.Message)
				if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
					cmd.Printf("       %s\n", item.Hint)
				}
			}
			if report.HasFailures {
				return fmt.Errorf("%d check(s) failed", countFailures(report))
			}
			return nil
		},
	}
}

func countFailures(report domain.DiagnosticReport) int {
	n := 0
	for _, item := range report.Items {
		if item.Status == domain.DiagnosticStatusFail {
			n++
		}
	}
	return n
}
