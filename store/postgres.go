package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/report"
	"github.com/secinto/go-csp-policy/store/migrations"
)

// Postgres is the PostgreSQL implementation of Store.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to dsn through the pgx driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (r *Postgres) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "setting migration dialect")
	}
	if err := gooseUpContext(ctx, r.db, "."); err != nil {
		return errors.Wrap(err, "running migrations")
	}
	return nil
}

const policyColumns = `p.id, p.title, p.enabled, p.is_base_policy, p.is_live, p.report_only,
	p.delivery_method, p.minimum_csp_level, p.send_violation_reports, p.enable_nel,
	p.alternate_report_uri, p.alternate_report_to_uri, p.alternate_nel_report_uri`

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner) (*policy.Policy, error) {
	var (
		p      policy.Policy
		method string
		level  int
	)
	err := row.Scan(&p.ID, &p.Title, &p.Enabled, &p.IsBasePolicy, &p.IsLive, &p.ReportOnly,
		&method, &level, &p.SendViolationReports, &p.EnableNEL,
		&p.AlternateReportURI, &p.AlternateReportToURI, &p.AlternateNELReportURI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning policy")
	}
	p.DeliveryMethod = policy.DeliveryMethod(method)
	p.MinimumCSPLevel = policy.CSPLevel(level)
	return &p, nil
}

// withDirectives loads the directives linked to p, in id order.
func (r *Postgres) withDirectives(ctx context.Context, db DBTX, p *policy.Policy) (*policy.Policy, error) {
	query := `SELECT d.id, d.key, d.rules, d.enabled, d.include_self, d.unsafe_inline,
		d.allow_data_uri, d.report_sample, d.has_none, d.use_nonce
		FROM csp_directives d
		JOIN csp_policy_directives pd ON pd.directive_id = d.id
		WHERE pd.policy_id = $1
		ORDER BY d.id`

	rows, err := db.QueryContext(ctx, query, p.ID)
	if err != nil {
		return nil, errors.Wrap(err, "querying directives")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d     policy.Directive
			rules []byte
		)
		if err := rows.Scan(&d.ID, &d.Key, &rules, &d.Enabled, &d.IncludeSelf, &d.UnsafeInline,
			&d.AllowDataURI, &d.ReportSample, &d.HasNone, &d.UseNonce); err != nil {
			return nil, errors.Wrap(err, "scanning directive")
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &d.Rules); err != nil {
				return nil, errors.Wrapf(err, "decoding rules of directive %d", d.ID)
			}
		}
		p.Directives = append(p.Directives, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating directives")
	}
	return p, nil
}

func (r *Postgres) BasePolicy(ctx context.Context, live bool, method policy.DeliveryMethod) (*policy.Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM csp_policies p
		WHERE p.enabled AND p.is_base_policy AND p.delivery_method = $1 AND (p.is_live OR NOT $2)
		ORDER BY p.id
		LIMIT 1`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, query, string(method), live))
	if err != nil {
		return nil, err
	}
	return r.withDirectives(ctx, r.db, p)
}

func (r *Postgres) PagePolicy(ctx context.Context, pageID string, live bool, method policy.DeliveryMethod) (*policy.Policy, error) {
	query := `SELECT ` + policyColumns + `
		FROM csp_policies p
		JOIN csp_page_policies pp ON pp.policy_id = p.id
		WHERE pp.page_id = $1 AND p.enabled AND p.delivery_method = $2 AND (p.is_live OR NOT $3)`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, query, pageID, string(method), live))
	if err != nil {
		return nil, err
	}
	return r.withDirectives(ctx, r.db, p)
}

func (r *Postgres) Policy(ctx context.Context, id int64) (*policy.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM csp_policies p WHERE p.id = $1`

	p, err := scanPolicy(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return r.withDirectives(ctx, r.db, p)
}

func (r *Postgres) SavePolicy(ctx context.Context, p *policy.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.savePolicyTx(ctx, p)
}

func upsertPolicy(ctx context.Context, tx DBTX, p *policy.Policy) error {
	args := []any{p.Title, p.Enabled, p.IsBasePolicy, p.IsLive, p.ReportOnly,
		string(p.DeliveryMethod), int(p.MinimumCSPLevel), p.SendViolationReports, p.EnableNEL,
		p.AlternateReportURI, p.AlternateReportToURI, p.AlternateNELReportURI}

	if p.ID == 0 {
		query := `INSERT INTO csp_policies (title, enabled, is_base_policy, is_live, report_only,
			delivery_method, minimum_csp_level, send_violation_reports, enable_nel,
			alternate_report_uri, alternate_report_to_uri, alternate_nel_report_uri)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`
		return errors.Wrap(tx.QueryRowContext(ctx, query, args...).Scan(&p.ID), "inserting policy")
	}

	query := `UPDATE csp_policies SET title = $2, enabled = $3, is_base_policy = $4, is_live = $5,
		report_only = $6, delivery_method = $7, minimum_csp_level = $8,
		send_violation_reports = $9, enable_nel = $10, alternate_report_uri = $11,
		alternate_report_to_uri = $12, alternate_nel_report_uri = $13
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query, append([]any{p.ID}, args...)...)
	if err != nil {
		return errors.Wrap(err, "updating policy")
	}
	return expectRow(res)
}

func (r *Postgres) DeletePolicy(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM csp_policies WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting policy")
	}
	return expectRow(res)
}

func (r *Postgres) SaveDirective(ctx context.Context, d *policy.Directive) error {
	d.Normalize()
	if d.Key == "" {
		return errors.New("directive key is required")
	}
	rules := d.Rules
	if rules == nil {
		rules = []policy.Rule{}
	}
	encoded, err := json.Marshal(rules)
	if err != nil {
		return errors.Wrap(err, "encoding rules")
	}
	args := []any{d.Key, string(encoded), d.Enabled, d.IncludeSelf, d.UnsafeInline,
		d.AllowDataURI, d.ReportSample, d.HasNone, d.UseNonce}

	if d.ID == 0 {
		query := `INSERT INTO csp_directives (key, rules, enabled, include_self, unsafe_inline,
			allow_data_uri, report_sample, has_none, use_nonce)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`
		if err := r.db.QueryRowContext(ctx, query, args...).Scan(&d.ID); err != nil {
			return errors.Wrap(err, "inserting directive")
		}
		return nil
	}

	query := `UPDATE csp_directives SET key = $2, rules = $3, enabled = $4, include_self = $5,
		unsafe_inline = $6, allow_data_uri = $7, report_sample = $8, has_none = $9, use_nonce = $10
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, append([]any{d.ID}, args...)...)
	if err != nil {
		return errors.Wrap(err, "updating directive")
	}
	return expectRow(res)
}

func (r *Postgres) DeleteDirective(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM csp_directives WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "deleting directive")
	}
	return expectRow(res)
}

func (r *Postgres) LinkDirective(ctx context.Context, policyID, directiveID int64) error {
	query := `INSERT INTO csp_policy_directives (policy_id, directive_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, policyID, directiveID); err != nil {
		return errors.Wrap(err, "linking directive")
	}
	return nil
}

func (r *Postgres) LinkPage(ctx context.Context, pageID string, policyID int64) error {
	query := `INSERT INTO csp_page_policies (page_id, policy_id) VALUES ($1, $2)
		ON CONFLICT (page_id) DO UPDATE SET policy_id = EXCLUDED.policy_id`
	if _, err := r.db.ExecContext(ctx, query, pageID, policyID); err != nil {
		return errors.Wrap(err, "linking page")
	}
	return nil
}

func (r *Postgres) InsertReport(ctx context.Context, rep *report.ViolationReport) error {
	if rep.ID == uuid.Nil {
		rep.ID = uuid.New()
	}
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO csp_violation_reports (id, document_uri, referrer, blocked_uri,
		violated_directive, effective_directive, original_policy, source_file, line_number,
		column_number, disposition, status_code, user_agent, script_sample, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query, rep.ID.String(), rep.DocumentURI, rep.Referrer, rep.BlockedURI,
		rep.ViolatedDirective, rep.EffectiveDirective, rep.OriginalPolicy, rep.SourceFile, rep.LineNumber,
		rep.ColumnNumber, rep.Disposition, rep.StatusCode, rep.UserAgent, rep.ScriptSample, rep.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "inserting violation report")
	}
	return nil
}

func (r *Postgres) CountReports(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM csp_violation_reports`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "counting violation reports")
	}
	return n, nil
}

func (r *Postgres) DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM csp_violation_reports WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "deleting violation reports")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting violation reports")
	}
	return n, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading affected rows")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
