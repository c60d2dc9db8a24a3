// Package store persists policies, directives, page links and violation
// reports.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/report"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the storage surface used at request time and by the
// administration code.
//
// BasePolicy and PagePolicy only return enabled policies with the requested
// delivery method; with live set, drafts are skipped too.
type Store interface {
	BasePolicy(ctx context.Context, live bool, method policy.DeliveryMethod) (*policy.Policy, error)
	PagePolicy(ctx context.Context, pageID string, live bool, method policy.DeliveryMethod) (*policy.Policy, error)
	Policy(ctx context.Context, id int64) (*policy.Policy, error)

	// SavePolicy inserts or updates the policy row; p.Directives is ignored,
	// use LinkDirective. Saving a base policy clears the flag everywhere else.
	SavePolicy(ctx context.Context, p *policy.Policy) error
	DeletePolicy(ctx context.Context, id int64) error

	// SaveDirective normalizes and stores d.
	SaveDirective(ctx context.Context, d *policy.Directive) error
	// DeleteDirective removes d and its policy links. Policies stay.
	DeleteDirective(ctx context.Context, id int64) error
	LinkDirective(ctx context.Context, policyID, directiveID int64) error
	LinkPage(ctx context.Context, pageID string, policyID int64) error

	InsertReport(ctx context.Context, r *report.ViolationReport) error
	CountReports(ctx context.Context) (int64, error)
	// DeleteReportsBefore removes reports created before cutoff and returns
	// how many were removed.
	DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
