package health

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/mem"

	"github.com/mirkobrombin/capsule/pkg/incus"
)

// Check is the outcome of one host readiness probe.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Run executes every readiness probe and returns the results. The
// sessionsPath and image arguments come from the effective
// configuration.
func Run(ctx context.Context, sessionsPath, image string) []Check {
	return []Check{
		checkDaemon(ctx),
		checkImage(ctx, image),
		checkTmuxFallback(),
		checkDisk(sessionsPath),
		checkMemory(),
	}
}

// AllOK reports whether every check passed.
func AllOK(checks []Check) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}

func checkDaemon(ctx context.Context) Check {
	if err := incus.Available(ctx); err != nil {
		return Check{Name: "incus daemon", OK: false, Detail: err.Error()}
	}
	return Check{Name: "incus daemon", OK: true, Detail: "reachable"}
}

func checkImage(ctx context.Context, image string) Check {
	out, err := incus.Command(ctx, "image", "list", image, "--format=csv", "-c", "l")
	if err != nil {
		return Check{Name: "base image", OK: false, Detail: err.Error()}
	}
	if out == "" {
		return Check{Name: "base image", OK: false,
			Detail: fmt.Sprintf("image %q not found, run: capsule build", image)}
	}
	return Check{Name: "base image", OK: true, Detail: image}
}

func checkTmuxFallback() Check {
	// tmux lives inside the image, a host copy only matters for
	// debugging, so a miss is reported but still passes.
	if _, err := exec.LookPath("tmux"); err != nil {
		return Check{Name: "host tmux", OK: true, Detail: "not installed (optional)"}
	}
	return Check{Name: "host tmux", OK: true, Detail: "installed"}
}

func checkDisk(sessionsPath string) Check {
	usage, err := disk.Usage(sessionsPath)
	if err != nil {
		// The directory may not exist before the first session.
		usage, err = disk.Usage("/")
	}
	if err != nil {
		return Check{Name: "disk space", OK: false, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%.1f GiB free", float64(usage.Free)/(1<<30))
	return Check{Name: "disk space", OK: usage.Free > 1<<30, Detail: detail}
}

func checkMemory() Check {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Check{Name: "memory", OK: false, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%.1f GiB available", float64(vm.Available)/(1<<30))
	return Check{Name: "memory", OK: vm.Available > 512<<20, Detail: detail}
}
