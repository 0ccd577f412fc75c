package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"memberportal/internal/db"
	"memberportal/internal/models"
	"memberportal/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqdb.Close() })
	require.NoError(t, db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")))
	return store.New(sqdb)
}

// fakeBackend is an in-memory stand-in for the upstream REST API. Setting
// down=true makes every request fail at the HTTP level.
type fakeBackend struct {
	mu   sync.Mutex
	apps map[string]models.Application
	down bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{apps: map[string]models.Application{}}
}

func (b *fakeBackend) setDown(v bool) {
	b.mu.Lock()
	b.down = v
	b.mu.Unlock()
}

func (b *fakeBackend) add(a models.Application) {
	b.mu.Lock()
	b.apps[a.ID] = a
	b.mu.Unlock()
}

func (b *fakeBackend) get(id string) (models.Application, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.apps[id]
	return a, ok
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /applications", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		out := make([]models.Application, 0, len(b.apps))
		for _, a := range b.apps {
			if s := r.URL.Query().Get("status"); s != "" && string(a.Status) != s {
				continue
			}
			out = append(out, a)
		}
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("GET /applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		a, ok := b.get(r.PathValue("id"))
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("POST /applications", func(w http.ResponseWriter, r *http.Request) {
		var in models.NewApplication
		_ = json.NewDecoder(r.Body).Decode(&in)
		a := models.Application{
			ID:          uuid.NewString(),
			FullName:    in.FullName,
			Email:       in.Email,
			Phone:       in.Phone,
			Position:    in.Position,
			School:      in.School,
			Status:      models.ApplicationPending,
			SubmittedAt: time.Now().UTC(),
		}
		b.add(a)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("PATCH /applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch struct {
			Status          models.ApplicationStatus `json:"status"`
			ProcessedAt     time.Time                `json:"processed_at"`
			Username        string                   `json:"username"`
			RejectionReason string                   `json:"rejection_reason"`
			ExpectedStatus  models.ApplicationStatus `json:"expected_status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&patch)
		b.mu.Lock()
		defer b.mu.Unlock()
		a, ok := b.apps[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if a.Status != patch.ExpectedStatus {
			w.WriteHeader(http.StatusConflict)
			return
		}
		a.Status = patch.Status
		a.ProcessedAt = &patch.ProcessedAt
		if patch.Username != "" {
			a.Username = &patch.Username
		}
		if patch.RejectionReason != "" {
			a.RejectionReason = &patch.RejectionReason
		}
		b.apps[a.ID] = a
		_ = json.NewEncoder(w).Encode(a)
	})
	mux.HandleFunc("DELETE /applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.apps[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(b.apps, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		var u models.User
		_ = json.NewDecoder(r.Body).Decode(&u)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(u)
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		down := b.down
		b.mu.Unlock()
		if down {
			// drop the connection so the client sees a transport error
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, err := hj.Hijack()
				if err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func newTestRepository(t *testing.T, backend *fakeBackend) (*Repository, *store.Store) {
	t.Helper()
	st := newTestStore(t)
	var remote *RemoteSource
	if backend != nil {
		srv := httptest.NewServer(backend.handler())
		t.Cleanup(srv.Close)
		remote = NewRemoteSource(srv.URL, 2*time.Second)
	}
	return NewRepository(remote, NewLocalSource(st), st), st
}

func TestInitUnreachableBackendSeedsDemoData(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	r, _ := newTestRepository(t, backend)

	require.NoError(t, r.Init(context.Background()))
	require.True(t, r.FallbackActive())

	apps, err := r.ListApplications(context.Background(), "", 50, 0)
	require.NoError(t, err)
	require.Len(t, apps, 4)
	for _, a := range apps {
		require.Equal(t, models.ApplicationPending, a.Status)
		require.Equal(t, "local", a.Source)
	}
}

func TestInitDoesNotReseedExistingLocalData(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	r, st := newTestRepository(t, backend)

	_, err := st.CreateApplication(context.Background(), models.NewApplication{
		FullName: "Existing Member", Email: "existing@example.com", Position: "Guru", School: "SMA 1",
	}, "local")
	require.NoError(t, err)

	require.NoError(t, r.Init(context.Background()))
	apps, err := r.ListApplications(context.Background(), "", 50, 0)
	require.NoError(t, err)
	require.Len(t, apps, 1, "existing data must not be mixed with the demo dataset")
}

func TestReadsFlipToLocalWhenBackendDies(t *testing.T) {
	backend := newFakeBackend()
	backend.add(models.Application{
		ID: uuid.NewString(), FullName: "Remote Only", Email: "remote@example.com",
		Status: models.ApplicationPending, SubmittedAt: time.Now().UTC(),
	})
	r, _ := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))
	require.False(t, r.FallbackActive())

	apps, err := r.ListApplications(context.Background(), "", 50, 0)
	require.NoError(t, err)
	require.Len(t, apps, 1)

	backend.setDown(true)
	apps, err = r.ListApplications(context.Background(), "", 50, 0)
	require.NoError(t, err)
	require.True(t, r.FallbackActive())
	require.NotEmpty(t, apps, "local fallback must serve a usable list")
}

func TestFallbackFlagSurvivesRestart(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))
	require.True(t, r.FallbackActive())

	v, ok, err := st.GetSetting(context.Background(), "fallback_mode")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestInitClearsStaleFallbackFlag(t *testing.T) {
	backend := newFakeBackend()
	r, st := newTestRepository(t, backend)
	require.NoError(t, st.UpsertSetting(context.Background(), "fallback_mode", "1"))

	require.NoError(t, r.Init(context.Background()))
	require.False(t, r.FallbackActive())

	v, _, err := st.GetSetting(context.Background(), "fallback_mode")
	require.NoError(t, err)
	require.Equal(t, "0", v)
}

func TestDecideRemoteSuccessMirrorsLocally(t *testing.T) {
	backend := newFakeBackend()
	id := uuid.NewString()
	backend.add(models.Application{
		ID: id, FullName: "Ahmad", Email: "ahmad@example.com",
		Status: models.ApplicationPending, SubmittedAt: time.Now().UTC(),
	})
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))

	a, err := r.DecideApplication(context.Background(), id, Decision{Status: models.ApplicationApproved, Username: "ahmad_7"})
	require.NoError(t, err)
	require.Equal(t, models.ApplicationApproved, a.Status)
	require.Equal(t, "remote", a.Source)
	require.False(t, a.NeedsReconciliation)

	mirrored, err := st.GetApplicationByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.ApplicationApproved, mirrored.Status)
	require.False(t, mirrored.NeedsReconciliation)
}

func TestDecideConflictSurfacesWithoutFallback(t *testing.T) {
	backend := newFakeBackend()
	id := uuid.NewString()
	backend.add(models.Application{
		ID: id, FullName: "Ahmad", Email: "ahmad@example.com",
		Status: models.ApplicationApproved, SubmittedAt: time.Now().UTC(),
	})
	r, _ := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))

	_, err := r.DecideApplication(context.Background(), id, Decision{Status: models.ApplicationRejected, Reason: "late"})
	require.ErrorIs(t, err, store.ErrConflict)
	require.False(t, r.FallbackActive(), "a business conflict must not trigger fallback")
}

func TestDecideOfflineMarksReconciliation(t *testing.T) {
	backend := newFakeBackend()
	id := uuid.NewString()
	app := models.Application{
		ID: id, FullName: "Siti", Email: "siti@example.com",
		Status: models.ApplicationPending, SubmittedAt: time.Now().UTC(),
	}
	backend.add(app)
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))

	// mirror the pending application locally so the offline decision has a row
	require.NoError(t, NewLocalSource(st).Mirror(context.Background(), app))

	backend.setDown(true)
	decided, err := r.DecideApplication(context.Background(), id, Decision{Status: models.ApplicationApproved, Username: "siti_3"})
	require.NoError(t, err)
	require.Equal(t, "local", decided.Source)
	require.True(t, decided.NeedsReconciliation)
	require.True(t, r.FallbackActive())

	pending, err := st.ListReconciliationPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestReconcilePendingReplaysDecisions(t *testing.T) {
	backend := newFakeBackend()
	id := uuid.NewString()
	app := models.Application{
		ID: id, FullName: "Siti", Email: "siti@example.com",
		Status: models.ApplicationPending, SubmittedAt: time.Now().UTC(),
	}
	backend.add(app)
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))
	require.NoError(t, NewLocalSource(st).Mirror(context.Background(), app))

	backend.setDown(true)
	_, err := r.DecideApplication(context.Background(), id, Decision{Status: models.ApplicationApproved, Username: "siti_3"})
	require.NoError(t, err)

	backend.setDown(false)
	reconciled, remaining, err := r.ReconcilePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{id}, reconciled)
	require.Empty(t, remaining)
	require.False(t, r.FallbackActive())

	remote, ok := backend.get(id)
	require.True(t, ok)
	require.Equal(t, models.ApplicationApproved, remote.Status)
	require.NotNil(t, remote.Username)
	require.Equal(t, "siti_3", *remote.Username)

	pending, err := st.ListReconciliationPending(context.Background())
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestReconcileConflictKeepsBackendCopy(t *testing.T) {
	backend := newFakeBackend()
	id := uuid.NewString()
	app := models.Application{
		ID: id, FullName: "Budi", Email: "budi@example.com",
		Status: models.ApplicationPending, SubmittedAt: time.Now().UTC(),
	}
	backend.add(app)
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))
	require.NoError(t, NewLocalSource(st).Mirror(context.Background(), app))

	backend.setDown(true)
	_, err := r.DecideApplication(context.Background(), id, Decision{Status: models.ApplicationApproved, Username: "budi_1"})
	require.NoError(t, err)

	// the backend decided differently while we were offline
	backend.setDown(false)
	reason := "duplicate submission"
	remoteCopy := app
	remoteCopy.Status = models.ApplicationRejected
	remoteCopy.RejectionReason = &reason
	backend.add(remoteCopy)

	reconciled, remaining, err := r.ReconcilePending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{id}, reconciled)
	require.Empty(t, remaining)

	local, err := st.GetApplicationByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.ApplicationRejected, local.Status, "backend copy wins on conflict")
	require.False(t, local.NeedsReconciliation)
}

func TestCreateUserOnlineKeepsPasswordHash(t *testing.T) {
	backend := newFakeBackend()
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))

	u := models.User{
		ID: uuid.NewString(), FullName: "Dewi", Email: "dewi@example.com",
		Username: "dewi_4", PasswordHash: "$argon2id$v=19$m=65536,t=2,p=1$salt$hash",
		Role: "member", Status: models.UserActive,
	}
	created, remoteStored, err := r.CreateUser(context.Background(), u)
	require.NoError(t, err)
	require.True(t, remoteStored)
	require.Equal(t, u.PasswordHash, created.PasswordHash, "the hash never travels in responses, the caller's copy must survive")

	// the local store backs login; it must hold the same hash
	got, err := st.GetUserByUsername(context.Background(), "dewi_4")
	require.NoError(t, err)
	require.Equal(t, u.PasswordHash, got.PasswordHash)
}

func TestReconcileWithNothingPendingKeepsFallback(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	r, _ := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))
	require.True(t, r.FallbackActive())

	reconciled, remaining, err := r.ReconcilePending(context.Background())
	require.NoError(t, err)
	require.Empty(t, reconciled)
	require.Empty(t, remaining)
	require.True(t, r.FallbackActive(), "no backend round-trip happened, the flag must stay set")
}

func TestCreateUserOfflineStoresLocally(t *testing.T) {
	backend := newFakeBackend()
	backend.setDown(true)
	r, st := newTestRepository(t, backend)
	require.NoError(t, r.Init(context.Background()))

	u := models.User{
		ID: uuid.NewString(), FullName: "Dewi", Email: "dewi@example.com",
		Username: "dewi_4", PasswordHash: "h", Role: "member", Status: models.UserActive,
	}
	created, remoteStored, err := r.CreateUser(context.Background(), u)
	require.NoError(t, err)
	require.False(t, remoteStored)
	require.Equal(t, "dewi_4", created.Username)

	got, err := st.GetUserByUsername(context.Background(), "dewi_4")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}
