package types

import "time"

// Session is the struct that represents a single unit of work in the store
// and in the capsule context. A session survives the container it runs in:
// the record (and the saved agent state next to it) is what makes --resume
// work after the container is long gone.
type Session struct {
	// ID is the unique identifier of the session, it is expected to be
	// unique across all the sessions in the store.
	ID string `gorm:"primaryKey"`

	// Workspace is the absolute path of the host directory mounted into
	// the container at /workspace.
	Workspace string `gorm:"index"`

	// Slot disambiguates parallel sessions against the same workspace.
	Slot int

	// Persistent marks the session's container as reusable: it is stopped,
	// not deleted, when the session ends.
	Persistent bool

	// ContainerName is the derived container identity for this session.
	ContainerName string `gorm:"index"`

	// NetworkMode is the isolation mode the session's container was
	// provisioned with. It is needed at cleanup time to find the ACL.
	NetworkMode string

	// CreatedAt is the time the session was first started.
	CreatedAt time.Time

	// LastUsedAt is updated on every start and resume of the session.
	LastUsedAt time.Time
}
