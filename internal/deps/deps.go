package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"vidingest/internal/config"
)

// Requirement defines an external binary a run relies on.
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

// ForConfig lists the binaries the configured transcode backend shells out to.
func ForConfig(cfg *config.Config) []Requirement {
	binary := strings.TrimSpace(cfg.Transcode.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	switch cfg.Transcode.Backend {
	case "ffmpeg":
		return []Requirement{
			{Name: "FFmpeg", Command: binary, Description: "container remux and re-encode"},
		}
	case "drapto":
		return []Requirement{
			{Name: "FFmpeg", Command: "ffmpeg", Description: "drapto encode"},
			{Name: "FFprobe", Command: "ffprobe", Description: "drapto media analysis"},
		}
	default:
		return nil
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

// Missing returns an error naming every required binary that is unavailable.
func Missing(statuses []Status) error {
	var missing []string
	for _, status := range statuses {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (%s)", status.Name, status.Detail))
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required binaries: %s", strings.Join(missing, ", "))
}
