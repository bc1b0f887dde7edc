// Package sessions provides conversation persistence for runs. The engine
// treats persistence as injectable and calls it only at run start and end.
package sessions

import (
	"context"

	"github.com/ensembleai/ensemble/pkg/models"
)

// Store is the interface for conversation persistence.
type Store interface {
	// Load returns the stored message history for a session, or an empty
	// slice for an unknown session.
	Load(ctx context.Context, id string) ([]models.Message, error)

	// Save replaces the stored message history for a session.
	Save(ctx context.Context, id string, msgs []models.Message) error
}
