/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package capsule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/mirkobrombin/capsule/pkg/incus"
)

// maxSlots bounds how many parallel sessions a single workspace can run.
const maxSlots = 10

// ErrInvalidWorkspace is returned when a workspace path cannot be
// resolved to an absolute path.
var ErrInvalidWorkspace = errors.New("invalid workspace path")

// ErrNoFreeSlot is returned when every slot of a workspace is taken.
var ErrNoFreeSlot = errors.New("no free slot for workspace")

// WorkspaceHash derives the stable identity of a workspace: the first
// 8 hex characters of the sha256 of its absolute path. Two checkouts at
// different paths hash differently even if their content is identical.
func WorkspaceHash(workspace string) (string, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:8], nil
}

// ContainerName builds the container name for a workspace and slot:
// prefix, workspace hash, dash, slot number.
func ContainerName(prefix, workspace string, slot int) (string, error) {
	hash, err := WorkspaceHash(workspace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s-%d", prefix, hash, slot), nil
}

// ParseContainerName splits a container name into workspace hash and
// slot. It returns ok=false for names that do not belong to capsule.
func ParseContainerName(prefix, name string) (hash string, slot int, ok bool) {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `([a-f0-9]{8})-(\d+)$`)
	m := re.FindStringSubmatch(name)
	if m == nil {
		return "", 0, false
	}
	slot, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], slot, true
}

// AllocateSlot asks the daemon which containers exist for the workspace
// and returns the lowest free slot. Daemon state is the only source of
// truth here, a stale store entry can never block a slot.
func AllocateSlot(ctx context.Context, prefix, workspace string) (int, error) {
	containers, err := incus.List(ctx, "")
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.Name)
	}
	return allocateSlotFrom(prefix, workspace, names)
}

func allocateSlotFrom(prefix, workspace string, names []string) (int, error) {
	hash, err := WorkspaceHash(workspace)
	if err != nil {
		return 0, err
	}

	taken := make(map[int]bool)
	for _, name := range names {
		h, slot, ok := ParseContainerName(prefix, name)
		if ok && h == hash {
			taken[slot] = true
		}
	}
	for slot := 1; slot <= maxSlots; slot++ {
		if !taken[slot] {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d slots in use", ErrNoFreeSlot, maxSlots)
}

// SlotAvailable reports whether the given slot is free for the workspace
// according to live daemon state.
func SlotAvailable(ctx context.Context, prefix, workspace string, slot int) (bool, error) {
	name, err := ContainerName(prefix, workspace, slot)
	if err != nil {
		return false, err
	}
	return !containerKnown(ctx, name), nil
}

func containerKnown(ctx context.Context, name string) bool {
	exists, err := incus.NewManager(name).Exists(ctx)
	return err == nil && exists
}
