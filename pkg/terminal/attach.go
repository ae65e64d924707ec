package terminal

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

// AttachPTY runs a command inside the container with the local terminal
// in raw mode, wired through a pseudo-terminal. The pty keeps window
// resizes flowing to the container and lets the copy loops be torn down
// when ctx is cancelled.
func AttachPTY(ctx context.Context, containerName, user, command string, env map[string]string) error {
	args := []string{"exec", containerName,
		"--user", "1000", "--group", "1000",
		"--env", "HOME=/home/" + user,
		"--env", "USER=" + user,
		"-t"}
	for k, v := range env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, "--", "bash", "-lc", command)

	cmd := exec.CommandContext(ctx, "incus", args...)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer ptmx.Close()

	// Follow local window resizes.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if err := pty.InheritSize(os.Stdin, ptmx); err != nil {
				logger.Debugf("resize failed: %v", err)
			}
		}
	}()
	winch <- syscall.SIGWINCH

	restore := func() {}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		restore = func() {
			if err := term.Restore(int(os.Stdin.Fd()), oldState); err != nil {
				logger.Debugf("terminal restore failed: %v", err)
			}
		}
	}
	defer restore()

	go func() {
		_, _ = io.Copy(ptmx, os.Stdin)
	}()

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(os.Stdout, ptmx)
		close(done)
	}()

	err = cmd.Wait()
	select {
	case <-done:
	case <-ctx.Done():
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &incus.ExitError{ExitCode: exitErr.ExitCode()}
	}
	return err
}
