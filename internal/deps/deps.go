// Package deps checks the external binaries the worker shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"shelfscan/internal/config"
)

// Requirement defines one external binary the worker relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// MediaRequirements lists the media toolchain for the configured binaries.
// Whisper is optional: transcription failures degrade to visual-only
// results instead of failing the job.
func MediaRequirements(media config.Media) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: media.FFmpegBinary, Description: "Scene detection, frame and audio extraction"},
		{Name: "FFprobe", Command: media.FFprobeBinary, Description: "Stream inspection before processing"},
		{Name: "Barcode scanner", Command: media.BarcodeBinary, Description: "Barcode short-circuit on segment frames"},
		{Name: "Whisper", Command: media.WhisperBinary, Description: "Speech transcription", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
