/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package types

// CapsuleOptions holds the runtime paths and knobs of a capsule instance.
// Values come from the configuration files, overridable via environment
// variables, see the config package for the merge order.
type CapsuleOptions struct {
	// ContainerPrefix is prepended to every container name this tool
	// manages, and is how the tool recognizes its own containers.
	ContainerPrefix string

	// SessionsPath is the directory where per-session agent state is
	// saved between runs.
	SessionsPath string

	// StorePath is the path of the sqlite database backing the session
	// store.
	StorePath string

	// CachePath is the directory holding per-container DNS resolution
	// caches for the allowlist network mode.
	CachePath string

	// Image is the image alias containers are initialized from.
	Image string
}
