package directory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"memberportal/internal/config"
)

// Provisioner mirrors approved members into an external member directory
// database so other systems (mailing lists, the regional office intranet) can
// authenticate them. Provisioning is best-effort: callers record failures on
// the user and retry later instead of blocking the approval.
type Provisioner interface {
	UpsertActiveMember(ctx context.Context, username, email, passwordHash string) error
	DisableMember(ctx context.Context, username string) error
}

type NoopProvisioner struct{}

func (NoopProvisioner) UpsertActiveMember(ctx context.Context, username, email, passwordHash string) error {
	return nil
}
func (NoopProvisioner) DisableMember(ctx context.Context, username string) error { return nil }

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type SQLProvisioner struct {
	db        *sql.DB
	driver    string
	table     string
	userCol   string
	passCol   string
	activeCol string
	emailCol  string
}

func NewProvisioner(cfg config.Config) (Provisioner, error) {
	if strings.TrimSpace(cfg.DirectoryDBDriver) == "" || strings.TrimSpace(cfg.DirectoryDBDSN) == "" {
		return NoopProvisioner{}, nil
	}
	for _, ident := range []string{cfg.DirectoryTable, cfg.DirectoryUserCol, cfg.DirectoryPassCol, cfg.DirectoryActiveCol, cfg.DirectoryEmailCol} {
		if ident != "" && !identRx.MatchString(ident) {
			return nil, fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	db, err := sql.Open(cfg.DirectoryDBDriver, cfg.DirectoryDBDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLProvisioner{
		db:        db,
		driver:    cfg.DirectoryDBDriver,
		table:     cfg.DirectoryTable,
		userCol:   cfg.DirectoryUserCol,
		passCol:   cfg.DirectoryPassCol,
		activeCol: cfg.DirectoryActiveCol,
		emailCol:  cfg.DirectoryEmailCol,
	}, nil
}

func (p *SQLProvisioner) UpsertActiveMember(ctx context.Context, username, email, passwordHash string) error {
	setCols := []string{fmt.Sprintf("%s=%s", p.passCol, p.ph(1))}
	args := []any{passwordHash}
	idx := 2
	if p.activeCol != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", p.activeCol, p.ph(idx)))
		args = append(args, 1)
		idx++
	}
	if p.emailCol != "" {
		setCols = append(setCols, fmt.Sprintf("%s=%s", p.emailCol, p.ph(idx)))
		args = append(args, email)
		idx++
	}
	args = append(args, username)
	updateQ := fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s", p.table, strings.Join(setCols, ","), p.userCol, p.ph(idx))
	res, err := p.db.ExecContext(ctx, updateQ, args...)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	cols := []string{p.userCol, p.passCol}
	vals := []any{username, passwordHash}
	if p.activeCol != "" {
		cols = append(cols, p.activeCol)
		vals = append(vals, 1)
	}
	if p.emailCol != "" {
		cols = append(cols, p.emailCol)
		vals = append(vals, email)
	}
	phs := make([]string, len(vals))
	for i := range vals {
		phs[i] = p.ph(i + 1)
	}
	insertQ := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.table, strings.Join(cols, ","), strings.Join(phs, ","))
	if _, err := p.db.ExecContext(ctx, insertQ, vals...); err != nil {
		// lost race with a concurrent upsert, fall back to the update
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") || strings.Contains(strings.ToLower(err.Error()), "unique") {
			_, err = p.db.ExecContext(ctx, updateQ, args...)
		}
		return err
	}
	return nil
}

func (p *SQLProvisioner) DisableMember(ctx context.Context, username string) error {
	if p.activeCol == "" {
		return nil
	}
	q := fmt.Sprintf("UPDATE %s SET %s=%s WHERE %s=%s", p.table, p.activeCol, p.ph(1), p.userCol, p.ph(2))
	_, err := p.db.ExecContext(ctx, q, 0, username)
	return err
}

func (p *SQLProvisioner) ph(i int) string {
	if strings.Contains(strings.ToLower(p.driver), "pgx") || strings.Contains(strings.ToLower(p.driver), "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
