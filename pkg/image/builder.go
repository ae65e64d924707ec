/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package image

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mirkobrombin/capsule/pkg/incus"
	"github.com/mirkobrombin/capsule/pkg/logger"
)

// buildContainer is the scratch container the image is assembled in.
const buildContainer = "capsule-image-build"

// BuildOptions describes the image to assemble.
type BuildOptions struct {
	// BaseImage is the remote image the build starts from.
	BaseImage string

	// Alias is the name the finished image is published under.
	Alias string

	// User is the unprivileged account created inside the image.
	User string

	// ExtraPackages are installed on top of the base set.
	ExtraPackages []string
}

// BuildResult reports what a build produced.
type BuildResult struct {
	Alias    string
	Duration time.Duration
}

// basePackages is what every capsule image carries: the terminal
// multiplexer the session machinery depends on plus everyday tooling.
var basePackages = []string{"tmux", "git", "curl", "ca-certificates", "sudo", "openssh-client"}

// Builder assembles the capsule base image in a scratch container and
// publishes it under an alias.
type Builder struct {
	mgr *incus.Manager
}

// NewBuilder returns a Builder.
func NewBuilder() *Builder {
	return &Builder{mgr: incus.NewManager(buildContainer)}
}

// Build runs the full image assembly. A leftover scratch container from
// a failed build is replaced.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	if opts.BaseImage == "" {
		opts.BaseImage = "images:ubuntu/24.04"
	}
	if opts.User == "" {
		opts.User = "dev"
	}

	exists, err := b.mgr.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Printf("removing leftover build container")
		if _, err := b.mgr.Delete(ctx); err != nil {
			return nil, err
		}
	}

	steps := []struct {
		name string
		run  func(context.Context, BuildOptions) error
	}{
		{"launching base container", b.launch},
		{"waiting for network", b.waitForNetwork},
		{"installing packages", b.installPackages},
		{"creating user", b.createUser},
		{"publishing image", b.publish},
	}

	bar := progressbar.NewOptions(len(steps),
		progressbar.OptionSetDescription("building image"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	for _, step := range steps {
		bar.Describe(step.name)
		if err := step.run(ctx, opts); err != nil {
			_ = bar.Clear()
			return nil, fmt.Errorf("%s: %w", step.name, err)
		}
		_ = bar.Add(1)
	}

	return &BuildResult{Alias: opts.Alias, Duration: time.Since(start)}, nil
}

func (b *Builder) launch(ctx context.Context, opts BuildOptions) error {
	// The base image may need downloading first.
	if _, err := incus.CommandWithTimeout(ctx, 30*time.Minute,
		"launch", opts.BaseImage, buildContainer); err != nil {
		return err
	}
	return b.mgr.WaitReady(ctx, 30)
}

// waitForNetwork polls until the container can resolve and reach the
// outside. When raw IPs answer but DNS does not, the usual culprit is a
// systemd-resolved stub address in resolv.conf, which gets rewritten to
// public resolvers.
func (b *Builder) waitForNetwork(ctx context.Context, _ BuildOptions) error {
	dnsFixed := false
	for i := 0; i < 30; i++ {
		if _, err := b.mgr.Exec(ctx, "curl -fsS --max-time 3 https://deb.debian.org >/dev/null 2>&1 || getent hosts deb.debian.org >/dev/null",
			incus.ExecOptions{Capture: true}); err == nil {
			return nil
		}
		ipOK := false
		if _, err := b.mgr.Exec(ctx, "ping -c1 -W2 1.1.1.1 >/dev/null 2>&1",
			incus.ExecOptions{Capture: true}); err == nil {
			ipOK = true
		}
		if ipOK && !dnsFixed {
			if fixed := b.tryFixDNS(ctx); fixed {
				dnsFixed = true
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return fmt.Errorf("container has no working network")
}

// tryFixDNS rewrites resolv.conf with public resolvers when it points
// at a local stub that is not answering.
func (b *Builder) tryFixDNS(ctx context.Context) bool {
	out, err := b.mgr.Exec(ctx, "cat /etc/resolv.conf", incus.ExecOptions{Capture: true})
	if err != nil || !strings.Contains(out, "127.0.0.53") {
		return false
	}
	logger.Warnf("DNS stub resolver not answering, switching to public resolvers")
	_, err = b.mgr.Exec(ctx,
		"printf 'nameserver 8.8.8.8\\nnameserver 8.8.4.4\\nnameserver 1.1.1.1\\n' > /etc/resolv.conf",
		incus.ExecOptions{Capture: true})
	return err == nil
}

func (b *Builder) installPackages(ctx context.Context, opts BuildOptions) error {
	packages := append(append([]string{}, basePackages...), opts.ExtraPackages...)
	cmd := "export DEBIAN_FRONTEND=noninteractive && apt-get update -q && apt-get install -yq " +
		strings.Join(packages, " ")
	_, err := b.mgr.Exec(ctx, cmd, incus.ExecOptions{Capture: true})
	return err
}

func (b *Builder) createUser(ctx context.Context, opts BuildOptions) error {
	cmd := fmt.Sprintf(
		"id -u %[1]s >/dev/null 2>&1 || useradd -m -u 1000 -s /bin/bash %[1]s && "+
			"echo '%[1]s ALL=(ALL) NOPASSWD:ALL' > /etc/sudoers.d/%[1]s",
		opts.User)
	_, err := b.mgr.Exec(ctx, cmd, incus.ExecOptions{Capture: true})
	return err
}

func (b *Builder) publish(ctx context.Context, opts BuildOptions) error {
	if err := b.mgr.Stop(ctx); err != nil {
		return err
	}
	if _, err := incus.CommandWithTimeout(ctx, 30*time.Minute,
		"publish", buildContainer, "--alias", opts.Alias, "--reuse"); err != nil {
		return err
	}
	_, err := b.mgr.Delete(ctx)
	return err
}
