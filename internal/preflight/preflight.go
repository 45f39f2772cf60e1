package preflight

import (
	"context"

	"slate/internal/config"
	"slate/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local readiness checks for the given config: directory
// access and the capture device node. Ledger reachability is checked
// separately because it needs a constructed transport.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir),
		CheckDirectoryAccess("Spool directory", cfg.Paths.SpoolDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckCaptureDevice(cfg.Capture.DevicePath),
	}

	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
		if status.Available {
			result.Detail = status.Command
		}
		results = append(results, result)
	}

	return results
}

// CheckSystemDeps evaluates the external binaries for the given config. Both
// the daemon and the CLI status command use this to avoid duplicating the
// requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.CaptureRequirements(cfg))
}
