package core

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one role-tagged entry of a conversation transcript.
type Turn struct {
	Role    Role
	Content string
}

// Gateway is the contract the orchestrator needs from the AI provider.
type Gateway interface {
	// Configured reports whether a provider client was set up at startup.
	Configured() bool
	// Complete blocks until the provider returns the full reply.
	Complete(ctx context.Context, history []Turn, message string) (string, error)
	// CompleteStream starts an incremental reply. The stream is single pass.
	CompleteStream(ctx context.Context, history []Turn, message string) (Stream, error)
	// GenerateTitle returns a short title for a conversation about basis.
	GenerateTitle(ctx context.Context, basis string) (string, error)
}

// Stream yields non-empty text fragments in order. Next returns
// iterator.Done once the reply is complete. Close stops production and
// may be called at any time, more than once.
type Stream interface {
	Next() (string, error)
	Close()
}
