package repo

import (
	"context"
	"time"

	"github.com/google/uuid"

	"memberportal/internal/models"
	"memberportal/internal/store"
)

// LocalSource serves applications and users from the embedded SQLite store.
// It is always reachable and doubles as the fallback cache for remote data.
type LocalSource struct {
	st *store.Store
}

func NewLocalSource(st *store.Store) *LocalSource {
	return &LocalSource{st: st}
}

func (l *LocalSource) ListApplications(ctx context.Context, status string, limit, offset int) ([]models.Application, error) {
	return l.st.ListApplications(ctx, status, limit, offset)
}

func (l *LocalSource) GetApplication(ctx context.Context, id string) (models.Application, error) {
	return l.st.GetApplicationByID(ctx, id)
}

func (l *LocalSource) CreateApplication(ctx context.Context, in models.NewApplication) (models.Application, error) {
	return l.st.CreateApplication(ctx, in, "local")
}

func (l *LocalSource) DecideApplication(ctx context.Context, id string, d Decision) (models.Application, error) {
	if err := l.st.SetApplicationDecision(ctx, id, d.Status, d.Username, d.Reason, "local"); err != nil {
		return models.Application{}, err
	}
	return l.st.GetApplicationByID(ctx, id)
}

func (l *LocalSource) DeleteApplication(ctx context.Context, id string) error {
	return l.st.DeleteApplication(ctx, id)
}

func (l *LocalSource) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	return l.st.CreateUser(ctx, u)
}

func (l *LocalSource) Mirror(ctx context.Context, apps ...models.Application) error {
	for _, a := range apps {
		if err := l.st.UpsertApplication(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (l *LocalSource) Empty(ctx context.Context) (bool, error) {
	n, err := l.st.CountApplications(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// SeedDemoData loads the bundled demo applications so reads stay usable when
// neither the backend nor prior local data is available.
func (l *LocalSource) SeedDemoData(ctx context.Context) error {
	return l.Mirror(ctx, DemoApplications()...)
}

// DemoApplications is the built-in four-entry dataset used when the backend
// is unreachable and the local store has never been populated.
func DemoApplications() []models.Application {
	base := time.Now().UTC().Add(-96 * time.Hour)
	mk := func(offset time.Duration, fullName, email, phone, position, school, regional, branch string) models.Application {
		return models.Application{
			ID:           uuid.NewString(),
			FullName:     fullName,
			Email:        email,
			Phone:        phone,
			Position:     position,
			School:       school,
			RegionalUnit: regional,
			BranchUnit:   branch,
			Education:    "S1",
			Experience:   "5 tahun",
			Status:       models.ApplicationPending,
			SubmittedAt:  base.Add(offset),
			Source:       "local",
		}
	}
	return []models.Application{
		mk(0, "Ahmad Fauzi", "ahmad.fauzi@example.com", "081234567801", "Guru", "SMA Negeri 1 Situbondo", "Jawa Timur", "Situbondo"),
		mk(6*time.Hour, "Siti Rahma", "siti.rahma@example.com", "081234567802", "Guru", "MTs Al-Falah", "Jawa Timur", "Panji"),
		mk(12*time.Hour, "Budi Santoso", "budi.santoso@example.com", "081234567803", "Kepala Sekolah", "SMK PGRI 2", "Jawa Timur", "Besuki"),
		mk(24*time.Hour, "Dewi Lestari", "dewi.lestari@example.com", "081234567804", "Staf TU", "SD Negeri 3 Mangaran", "Jawa Timur", "Mangaran"),
	}
}
