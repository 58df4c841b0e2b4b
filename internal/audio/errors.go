package audio

import (
	"fmt"
	"strings"

	"github.com/tzamtzis/obsidian-transcription-plugin/internal/domain"
)

func failConversionUnavailable(tool string, err error) error {
	return domain.NewFailure(
		domain.CodeConversionUnavailable,
		domain.KindConfig,
		fmt.Sprintf("conversion tool not found: %s", tool),
		err,
	).WithHint("Install ffmpeg and ensure it is available on PATH.")
}

func failConversionFailed(exitCode int, tail []string, err error) error {
	return domain.NewFailure(
		domain.CodeConversionFailed,
		domain.KindInternal,
		fmt.Sprintf("conversion tool exited with code %d: %s", exitCode, strings.Join(tail, " | ")),
		err,
	)
}

func failConversionNoOutput(tail []string, err error) error {
	return domain.NewFailure(
		domain.CodeConversionFailed,
		domain.KindInternal,
		fmt.Sprintf("conversion tool produced no output file: %s", strings.Join(tail, " | ")),
		err,
	)
}
