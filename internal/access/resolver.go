package access

import (
	"context"
	"sync"

	"attendance.service/internal/core/model"
	"attendance.service/internal/ports/docstore"
	"attendance.service/internal/ports/profile"
	"github.com/rs/zerolog/log"
)

// Scope is the set of records an identity may read: everything for an
// administrator, otherwise only the caller's own records.
type Scope struct {
	All      bool
	OwnerUID string
}

// AllRecords is the administrator scope.
func AllRecords() Scope { return Scope{All: true} }

// OwnerOnly restricts reads to records owned by uid.
func OwnerOnly(uid string) Scope { return Scope{OwnerUID: uid} }

// Query builds the predicate pushed to the store boundary. Administrator
// scope issues an unfiltered query.
func (s Scope) Query() docstore.Query {
	if s.All {
		return docstore.Query{}
	}
	return docstore.Query{OwnerID: s.OwnerUID}
}

// Allows reports whether the scope covers the record.
func (s Scope) Allows(r *model.AttendanceRecord) bool {
	return s.All || r.OwnerID == s.OwnerUID
}

// Resolver maps identities to scopes. The authoritative role lookup runs
// once per identity and is cached for the session; a profile-change
// notification for a uid drops its cache entry.
type Resolver struct {
	profiles profile.Store

	mu    sync.RWMutex
	roles map[string]model.Role
}

func NewResolver(profiles profile.Store) *Resolver {
	return &Resolver{
		profiles: profiles,
		roles:    make(map[string]model.Role),
	}
}

// Role returns the cached role for uid, performing the authoritative
// lookup on a cache miss. Unknown uids resolve to the employee role
// rather than failing open into a broader scope.
func (r *Resolver) Role(ctx context.Context, uid string) (model.Role, error) {
	r.mu.RLock()
	role, ok := r.roles[uid]
	r.mu.RUnlock()
	if ok {
		return role, nil
	}

	p, err := r.profiles.GetProfile(ctx, uid)
	if err != nil {
		if model.HasCode(err, model.CodeNotFound) {
			return model.RoleEmployee, nil
		}
		return "", err
	}

	r.mu.Lock()
	r.roles[uid] = p.Role
	r.mu.Unlock()
	return p.Role, nil
}

// Resolve produces the read scope for an identity.
func (r *Resolver) Resolve(ctx context.Context, caller model.Identity) (Scope, error) {
	role, err := r.Role(ctx, caller.UID)
	if err != nil {
		return Scope{}, err
	}
	if role == model.RoleAdministrator {
		return AllRecords(), nil
	}
	return OwnerOnly(caller.UID), nil
}

// Invalidate drops the cached role for uid; the next Resolve re-queries
// the profile store.
func (r *Resolver) Invalidate(uid string) {
	r.mu.Lock()
	delete(r.roles, uid)
	r.mu.Unlock()
}

// Watch consumes profile-change notifications and invalidates the role
// cache for each changed uid. It returns when ctx is canceled or the
// change stream closes.
func (r *Resolver) Watch(ctx context.Context) error {
	changes, err := r.profiles.Changes(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-changes:
			if !ok {
				return nil
			}
			log.Debug().Str("uid", p.UID).Str("role", string(p.Role)).Msg("Profile changed, invalidating cached role")
			r.Invalidate(p.UID)
		}
	}
}

// AuthorizeMutation enforces ownership for check-in/check-out. This runs
// before any write is attempted.
func (r *Resolver) AuthorizeMutation(caller model.Identity, rec *model.AttendanceRecord) error {
	if rec.OwnerID != caller.UID {
		return model.NewError(model.CodeForbidden, "caller %s may not mutate record owned by %s", caller.UID, rec.OwnerID)
	}
	return nil
}

// AuthorizeAdmin enforces the administrator role for edit/delete.
func (r *Resolver) AuthorizeAdmin(ctx context.Context, caller model.Identity) error {
	role, err := r.Role(ctx, caller.UID)
	if err != nil {
		return err
	}
	if role != model.RoleAdministrator {
		return model.NewError(model.CodeForbidden, "caller %s requires the administrator role", caller.UID)
	}
	return nil
}
