package repo

import (
	"context"
	"errors"
	"log"
	"sync"

	"memberportal/internal/models"
	"memberportal/internal/store"
)

const fallbackModeKey = "fallback_mode"

// Repository fronts the remote backend with a transparent local fallback.
// Which source is authoritative is an explicit piece of state, persisted in
// the settings table and injected at construction rather than hidden in a
// global. Reads are fully determined by the flag; writes always attempt the
// backend so a recovered backend clears the flag on its next success.
type Repository struct {
	remote *RemoteSource // nil when no upstream is configured
	local  *LocalSource
	st     *store.Store

	mu       sync.Mutex
	fallback bool
	probed   bool
}

func NewRepository(remote *RemoteSource, local *LocalSource, st *store.Store) *Repository {
	return &Repository{remote: remote, local: local, st: st}
}

// Init loads the persisted fallback flag and probes the backend once.
// Safe to call repeatedly; after a successful probe it is a no-op.
func (r *Repository) Init(ctx context.Context) error {
	r.mu.Lock()
	alreadyProbed := r.probed
	r.mu.Unlock()
	if alreadyProbed {
		return nil
	}

	v, ok, err := r.st.GetSetting(ctx, fallbackModeKey)
	if err != nil {
		return err
	}
	persisted := ok && v == "1"

	if r.remote == nil {
		r.setMode(ctx, true)
		r.markProbed()
		return nil
	}
	if err := r.remote.Probe(ctx); err != nil {
		log.Printf("repo probe: backend unreachable, entering fallback mode err=%v", err)
		r.setMode(ctx, true)
		if err := r.ensureLocalReadable(ctx); err != nil {
			return err
		}
		r.markProbed()
		return nil
	}
	if persisted {
		log.Printf("repo: backend reachable again, clearing persisted fallback flag")
		if err := r.st.UpsertSetting(ctx, fallbackModeKey, "0"); err != nil {
			log.Printf("repo: persist fallback flag failed err=%v", err)
		}
	}
	r.setMode(ctx, false)
	r.markProbed()
	return nil
}

// ForceLocal pins the repository to the local source, used by demo mode.
func (r *Repository) ForceLocal(ctx context.Context) error {
	r.setMode(ctx, true)
	r.markProbed()
	return r.ensureLocalReadable(ctx)
}

func (r *Repository) markProbed() {
	r.mu.Lock()
	r.probed = true
	r.mu.Unlock()
}

// FallbackActive reports whether local data is currently authoritative.
func (r *Repository) FallbackActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fallback
}

func (r *Repository) setMode(ctx context.Context, fallback bool) {
	r.mu.Lock()
	changed := r.fallback != fallback
	r.fallback = fallback
	r.mu.Unlock()
	if !changed {
		return
	}
	v := "0"
	if fallback {
		v = "1"
	}
	if err := r.st.UpsertSetting(ctx, fallbackModeKey, v); err != nil {
		log.Printf("repo: persist fallback flag failed err=%v", err)
	}
	log.Printf("repo: fallback mode changed active=%v", fallback)
}

func (r *Repository) ensureLocalReadable(ctx context.Context) error {
	empty, err := r.local.Empty(ctx)
	if err != nil {
		return err
	}
	if empty {
		log.Printf("repo: local store empty, seeding demo dataset")
		return r.local.SeedDemoData(ctx)
	}
	return nil
}

// ListApplications reads from whichever source is authoritative. Backend
// failures flip to the local store (seeded with demo data when empty) so the
// caller always gets a usable list.
func (r *Repository) ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error) {
	if r.remote == nil || r.FallbackActive() {
		if err := r.ensureLocalReadable(ctx); err != nil {
			return nil, err
		}
		return r.local.ListApplications(ctx, status, limit, offset)
	}
	apps, err := r.remote.ListApplications(ctx, status, limit, offset)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			log.Printf("repo: list applications fell back to local err=%v", err)
			r.setMode(ctx, true)
			if err := r.ensureLocalReadable(ctx); err != nil {
				return nil, err
			}
			return r.local.ListApplications(ctx, status, limit, offset)
		}
		return nil, err
	}
	if err := r.local.Mirror(ctx, apps...); err != nil {
		log.Printf("repo: mirror applications failed err=%v", err)
	}
	return apps, nil
}

func (r *Repository) GetApplication(ctx context.Context, id string) (models.Application, error) {
	if r.remote == nil || r.FallbackActive() {
		return r.local.GetApplication(ctx, id)
	}
	a, err := r.remote.GetApplication(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBackendUnavailable) {
			r.setMode(ctx, true)
			return r.local.GetApplication(ctx, id)
		}
		return models.Application{}, err
	}
	return a, nil
}

func (r *Repository) CreateApplication(ctx context.Context, in models.NewApplication) (models.Application, error) {
	if r.remote != nil {
		a, err := r.remote.CreateApplication(ctx, in)
		if err == nil {
			a.Source = "remote"
			if err := r.local.Mirror(ctx, a); err != nil {
				log.Printf("repo: mirror new application failed err=%v", err)
			}
			r.setMode(ctx, false)
			return a, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return models.Application{}, err
		}
		log.Printf("repo: create application fell back to local err=%v", err)
		r.setMode(ctx, true)
	}
	return r.local.CreateApplication(ctx, in)
}

// DecideApplication applies a terminal transition. The backend write is
// always attempted first when configured; a success clears the fallback flag,
// a reachability failure applies the decision locally and sets it. Business
// rejections (conflict on a non-pending application, unknown id) surface
// unchanged.
func (r *Repository) DecideApplication(ctx context.Context, id string, d Decision) (models.Application, error) {
	if r.remote != nil {
		a, err := r.remote.DecideApplication(ctx, id, d)
		if err == nil {
			a.Source = "remote"
			if err := r.local.Mirror(ctx, a); err != nil {
				log.Printf("repo: mirror decision failed err=%v", err)
			}
			r.setMode(ctx, false)
			return a, nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return models.Application{}, err
		}
		log.Printf("repo: decision fell back to local id=%s err=%v", id, err)
		r.setMode(ctx, true)
	}
	a, err := r.local.DecideApplication(ctx, id, d)
	if err != nil {
		return models.Application{}, err
	}
	if r.remote != nil {
		// The backend never saw this decision; flag the record so an admin
		// reconciliation pass can replay it once the backend is reachable.
		if err := r.st.MarkApplicationReconciliation(ctx, id, true); err != nil {
			log.Printf("repo: mark reconciliation failed id=%s err=%v", id, err)
		} else {
			a.NeedsReconciliation = true
		}
	}
	return a, nil
}

// ReconcilePending replays locally applied decisions against the backend.
// It returns the ids that were reconciled and the ids still outstanding.
// A conflict means the backend decided the application independently; the
// backend copy wins and the flag is cleared.
func (r *Repository) ReconcilePending(ctx context.Context) (reconciled, remaining []string, err error) {
	apps, err := r.st.ListReconciliationPending(ctx)
	if err != nil {
		return nil, nil, err
	}
	if r.remote == nil {
		for _, a := range apps {
			remaining = append(remaining, a.ID)
		}
		return nil, remaining, nil
	}
	for i, a := range apps {
		d := Decision{Status: a.Status}
		if a.Username != nil {
			d.Username = *a.Username
		}
		if a.RejectionReason != nil {
			d.Reason = *a.RejectionReason
		}
		replayed, rerr := r.remote.DecideApplication(ctx, a.ID, d)
		switch {
		case rerr == nil:
			replayed.Source = "remote"
			if err := r.local.Mirror(ctx, replayed); err != nil {
				log.Printf("repo: mirror reconciled decision failed id=%s err=%v", a.ID, err)
			}
			_ = r.st.MarkApplicationReconciliation(ctx, a.ID, false)
			reconciled = append(reconciled, a.ID)
		case errors.Is(rerr, store.ErrConflict):
			log.Printf("repo: backend already decided id=%s, keeping backend copy", a.ID)
			if current, gerr := r.remote.GetApplication(ctx, a.ID); gerr == nil {
				current.Source = "remote"
				_ = r.local.Mirror(ctx, current)
			}
			_ = r.st.MarkApplicationReconciliation(ctx, a.ID, false)
			reconciled = append(reconciled, a.ID)
		case errors.Is(rerr, store.ErrNotFound):
			log.Printf("repo: backend lost application id=%s, flag kept for review", a.ID)
			remaining = append(remaining, a.ID)
		case errors.Is(rerr, ErrBackendUnavailable):
			r.setMode(ctx, true)
			for _, rest := range apps[i:] {
				remaining = append(remaining, rest.ID)
			}
			return reconciled, remaining, nil
		default:
			remaining = append(remaining, a.ID)
		}
	}
	// only an actual backend round-trip proves reachability; with nothing
	// to replay the flag stays as it is
	if len(apps) > 0 {
		r.setMode(ctx, false)
	}
	return reconciled, remaining, nil
}

func (r *Repository) DeleteApplication(ctx context.Context, id string) error {
	if r.remote != nil {
		err := r.remote.DeleteApplication(ctx, id)
		if err == nil {
			_ = r.local.DeleteApplication(ctx, id)
			r.setMode(ctx, false)
			return nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return err
		}
		log.Printf("repo: delete fell back to local id=%s err=%v", id, err)
		r.setMode(ctx, true)
	}
	return r.local.DeleteApplication(ctx, id)
}

// CreateUser stores a new account. The local store always gets a copy (it
// backs login); the returned bool reports whether the backend accepted the
// record, so callers can surface that a fallback-created account will not
// appear in the backend user list.
func (r *Repository) CreateUser(ctx context.Context, u models.User) (models.User, bool, error) {
	remoteStored := false
	if r.remote != nil {
		created, err := r.remote.CreateUser(ctx, u)
		switch {
		case err == nil:
			u = created
			remoteStored = true
			r.setMode(ctx, false)
		case errors.Is(err, ErrBackendUnavailable):
			log.Printf("repo: create user fell back to local username=%s err=%v", u.Username, err)
			r.setMode(ctx, true)
		default:
			return models.User{}, false, err
		}
	}
	local, err := r.local.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrConflict) && remoteStored {
			// Backend accepted the record and a matching local row already
			// exists; the remote copy wins.
			return u, true, nil
		}
		return models.User{}, remoteStored, err
	}
	return local, remoteStored, nil
}
