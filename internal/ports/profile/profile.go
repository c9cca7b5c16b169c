package profile

import (
	"context"

	"attendance.service/internal/core/model"
)

// Store supplies authoritative role metadata per uid. The latest delivered
// value is current; Changes streams profile updates so role caches can be
// invalidated.
type Store interface {
	GetProfile(ctx context.Context, uid string) (*model.Profile, error)
	Changes(ctx context.Context) (<-chan model.Profile, error)
}
