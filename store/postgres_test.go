package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/report"
)

var (
	policyCols = []string{"id", "title", "enabled", "is_base_policy", "is_live", "report_only",
		"delivery_method", "minimum_csp_level", "send_violation_reports", "enable_nel",
		"alternate_report_uri", "alternate_report_to_uri", "alternate_nel_report_uri"}
	directiveCols = []string{"id", "key", "rules", "enabled", "include_self", "unsafe_inline",
		"allow_data_uri", "report_sample", "has_none", "use_nonce"}
)

func newRepoWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgres(db), mock, db
}

func TestPostgres_BasePolicy(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM csp_policies p WHERE p.enabled AND p.is_base_policy`).
		WithArgs("Header", true).
		WillReturnRows(sqlmock.NewRows(policyCols).
			AddRow(int64(1), "Site", true, true, true, false, "Header", 2, true, false, "", "", ""))
	mock.ExpectQuery(`FROM csp_directives d JOIN csp_policy_directives pd`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(directiveCols).
			AddRow(int64(3), "script-src", []byte(`[{"source":"https://cdn.example.com","comment":"CDN"}]`), true, true, false, false, false, false, true).
			AddRow(int64(5), "upgrade-insecure-requests", []byte(`[]`), true, false, false, false, false, false, false))

	p, err := repo.BasePolicy(context.Background(), true, policy.DeliveryHeader)
	require.NoError(t, err)

	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, policy.Level2, p.MinimumCSPLevel)
	assert.Equal(t, policy.DeliveryHeader, p.DeliveryMethod)
	require.Len(t, p.Directives, 2)
	assert.Equal(t, []policy.Rule{{Source: "https://cdn.example.com", Comment: "CDN"}}, p.Directives[0].Rules)
	assert.Equal(t, "script-src https://cdn.example.com 'self' 'nonce-n';upgrade-insecure-requests;",
		p.String(policy.Options{Nonce: "n"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PagePolicyNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`JOIN csp_page_policies pp ON pp.policy_id = p.id`).
		WithArgs("home", "MetaTag", false).
		WillReturnRows(sqlmock.NewRows(policyCols))

	_, err := repo.PagePolicy(context.Background(), "home", false, policy.DeliveryMetaTag)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_PolicyBadRules(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM csp_policies p WHERE p.id =`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(policyCols).
			AddRow(int64(9), "Broken", true, false, true, false, "Header", 3, false, false, "", "", ""))
	mock.ExpectQuery(`FROM csp_directives d`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(directiveCols).
			AddRow(int64(1), "img-src", []byte(`{not json`), true, false, false, false, false, false, false))

	_, err := repo.Policy(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding rules of directive 1")
}

func TestPostgres_SaveBasePolicyClearsOthers(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("Site")
	p.Enabled = true
	p.IsBasePolicy = true

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(basePolicyLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE csp_policies SET is_base_policy = false WHERE is_base_policy AND id <>`).
		WithArgs(int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`INSERT INTO csp_policies`).
		WithArgs("Site", true, true, false, true, "Header", 2, false, false, "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	require.NoError(t, repo.SavePolicy(context.Background(), p))
	assert.Equal(t, int64(7), p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveBasePolicyUpdateKeepsOwnFlag(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("Site")
	p.ID = 4
	p.IsBasePolicy = true

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(basePolicyLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE csp_policies SET is_base_policy = false`).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE csp_policies SET title =`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SavePolicy(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SavePolicyRollsBack(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("Site")
	p.ID = 4
	p.IsBasePolicy = true

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE csp_policies SET is_base_policy = false`).
		WithArgs(int64(4)).
		WillReturnError(errors.New("db is down"))
	mock.ExpectRollback()

	err := repo.SavePolicy(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clearing other base policies")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveBasePolicyLockFails(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("Site")
	p.IsBasePolicy = true

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := repo.SavePolicy(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locking base policy")
	assert.Zero(t, p.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SavePolicyMissing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("Site")
	p.ID = 4

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE csp_policies SET title =`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.ErrorIs(t, repo.SavePolicy(context.Background(), p), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SavePolicyInvalid(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	p := policy.New("")
	require.ErrorIs(t, repo.SavePolicy(context.Background(), p), policy.ErrInvalid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveDirectiveNormalizes(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	d := &policy.Directive{
		Key:         " Upgrade-Insecure-Requests ",
		Rules:       []policy.Rule{{Source: "https://x.example.com"}},
		Enabled:     true,
		IncludeSelf: true,
		UseNonce:    true,
	}

	mock.ExpectQuery(`INSERT INTO csp_directives`).
		WithArgs("upgrade-insecure-requests", "[]", true, false, false, false, false, false, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	require.NoError(t, repo.SaveDirective(context.Background(), d))
	assert.Equal(t, int64(11), d.ID)
	assert.Nil(t, d.Rules)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Links(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO csp_policy_directives .* ON CONFLICT DO NOTHING`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO csp_page_policies .* ON CONFLICT \(page_id\) DO UPDATE`).
		WithArgs("home", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM csp_directives WHERE id =`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, repo.LinkDirective(ctx, 1, 2))
	require.NoError(t, repo.LinkPage(ctx, "home", 1))
	require.ErrorIs(t, repo.DeleteDirective(ctx, 2), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Reports(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	id := uuid.New()
	rep := &report.ViolationReport{ID: id, DocumentURI: "https://example.com/", BlockedURI: "inline", LineNumber: 3}
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO csp_violation_reports`).
		WithArgs(id.String(), "https://example.com/", "", "inline", "", "", "", "", 3, 0, "", 0, "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM csp_violation_reports`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectExec(`DELETE FROM csp_violation_reports WHERE created_at <`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	ctx := context.Background()
	require.NoError(t, repo.InsertReport(ctx, rep))
	assert.False(t, rep.CreatedAt.IsZero())

	n, err := repo.CountReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	removed, err := repo.DeleteReportsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	old := gooseUpContext
	t.Cleanup(func() { gooseUpContext = old })

	var dir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, d string, opts ...goose.OptionsFunc) error {
		dir = d
		return nil
	}
	require.NoError(t, repo.Migrate(context.Background()))
	assert.Equal(t, ".", dir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err := repo.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running migrations")
}

func TestSavePolicyTx_PanicRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgres(db)

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = repo.savePolicyTx(context.Background(), nil)
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
