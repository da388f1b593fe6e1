// Package checkpoint persists session state between turns. A checkpoint is
// the full JSON-serialized session record, written once per completed turn
// and reloaded at the start of the next. Ending a session archives its
// durable facts into the long-term profile store before the checkpoint is
// removed.
package checkpoint

import (
	"context"
	"errors"

	"github.com/careflow-ai/careflow/session"
)

// ErrNoProfile is returned by LoadOrSeed when no checkpoint exists and the
// long-term profile store has no record for the user either. A session can
// only start for a registered patient.
var ErrNoProfile = errors.New("checkpoint: no profile for user")

// Store is the per-session persistence boundary.
type Store interface {
	// LoadOrSeed returns the session's checkpointed state, or a fresh state
	// seeded from the user's long-term profile when no checkpoint exists.
	// A seed for a user with no profile record fails with ErrNoProfile.
	LoadOrSeed(ctx context.Context, sessionID, userID string) (*session.State, error)
	// Persist writes the state as the session's checkpoint.
	Persist(ctx context.Context, s *session.State) error
	// Purge discards the session's checkpoint without archiving.
	Purge(ctx context.Context, sessionID string) error
	// ArchiveAndPurge folds the session's durable facts into the long-term
	// profile, then discards the checkpoint. If archiving fails the
	// checkpoint is kept so the operation can be retried.
	ArchiveAndPurge(ctx context.Context, sessionID string) error
}
