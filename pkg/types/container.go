package types

// ContainerInfo is the parsed subset of a container entry as reported by
// the daemon, used by the list and shutdown commands.
type ContainerInfo struct {
	// Name is the name of the container as known to the daemon.
	Name string `json:"name"`

	// Status is the daemon-reported status string, e.g. "Running".
	Status string `json:"status"`

	// IPv4 is the address of the container's first interface with a
	// global IPv4 address, or an empty string if the container is
	// stopped or has no address yet.
	IPv4 string `json:"ipv4"`

	// Workspace is the host path this container serves, recovered from
	// the session store when available.
	Workspace string `json:"workspace,omitempty"`

	// Persistent reports whether the container is kept across runs.
	Persistent bool `json:"persistent"`
}
