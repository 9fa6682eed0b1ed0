package entitle

import "context"

// Storage defines the interface for entitlement persistence.
// Each backend owns its data exclusively: callers never touch the backing
// store directly, and every mutating method must be durable before it
// returns, so a read immediately after a write observes the new state.
//
// Read-modify-write sequences (AllocateServer in particular) must be atomic
// inside the backend (mutex, Lua script, row lock or transaction depending
// on the engine) so two concurrent callers can never both observe the same
// spare capacity.
type Storage interface {
	// GetEntitlement retrieves the entitlement for an email.
	// Returns ErrEntitlementNotFound when no record exists.
	GetEntitlement(ctx context.Context, email string) (*Entitlement, error)

	// SetEntitlement stores the entitlement, replacing any existing record.
	SetEntitlement(ctx context.Context, ent *Entitlement) error

	// GetTrial retrieves the trial record for a device.
	// Returns ErrTrialNotFound when no record exists.
	GetTrial(ctx context.Context, deviceID string) (*Trial, error)

	// CreateTrial stores a new trial record.
	// Returns ErrTrialExists when the device already has one; trial records
	// are immutable and are never replaced.
	CreateTrial(ctx context.Context, trial *Trial) error

	// AddServer adds a server to the trial pool.
	AddServer(ctx context.Context, server *Server) error

	// ListServers returns every server in the pool.
	ListServers(ctx context.Context) ([]*Server, error)

	// RemoveServer deletes a server from the pool.
	// Returns ErrServerNotFound when the ID is unknown.
	RemoveServer(ctx context.Context, id string) error

	// AllocateServer atomically picks the first server with spare capacity,
	// increments its user count, and returns the updated server.
	// Returns ErrPoolExhausted when every server is at capacity.
	AllocateServer(ctx context.Context) (*Server, error)

	// ReleaseServer atomically decrements a server's user count, clamping
	// at zero. Returns ErrServerNotFound when the ID is unknown.
	ReleaseServer(ctx context.Context, id string) error
}
