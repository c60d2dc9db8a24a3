package main

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/config"
	"github.com/secinto/go-csp-policy/logging"
	"github.com/secinto/go-csp-policy/middleware"
	"github.com/secinto/go-csp-policy/policy"
	"github.com/secinto/go-csp-policy/prune"
	"github.com/secinto/go-csp-policy/report"
	"github.com/secinto/go-csp-policy/store"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seed(ctx, st, cfg, log); err != nil {
		return err
	}

	opts, err := middleware.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	mw, err := middleware.New(st, opts, log)
	if err != nil {
		return err
	}

	job := &prune.Job{Store: st, OlderThan: cfg.PruneOlderThan, Logger: log.With("component", "prune")}
	go job.Loop(ctx, cfg.PruneInterval)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(cfg, st, mw, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "listening", "addr", srv.Addr, "report_url", cfg.ReportURL())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info(shutdownCtx, "shutting down")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutting down server")
}

// openStore returns the PostgreSQL store when a DSN is configured and the
// in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, log logging.Logger) (store.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		log.Warn(ctx, "no database configured, policies and reports are kept in memory")
		return store.NewMemory(), func() {}, nil
	}

	db, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pg, func() { _ = db.Close() }, nil
}

// seed writes the configured policies into a store that has no base policy
// yet, so restarts against a database do not duplicate them.
func seed(ctx context.Context, st store.Store, cfg *config.Config, log logging.Logger) error {
	if len(cfg.Policies) == 0 {
		return nil
	}
	for _, method := range []policy.DeliveryMethod{policy.DeliveryHeader, policy.DeliveryMetaTag} {
		_, err := st.BasePolicy(ctx, false, method)
		switch {
		case err == nil:
			log.Info(ctx, "base policy present, skipping configured policies")
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return errors.Wrap(err, "checking for base policy")
		}
	}
	if err := store.Seed(ctx, st, cfg.Policies, cfg.MinimumCSPLevel); err != nil {
		return err
	}
	log.Info(ctx, "seeded policies", "count", len(cfg.Policies))
	return nil
}

func newRouter(cfg *config.Config, st store.Store, mw *middleware.Middleware, log logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle(cfg.ReportPath, &report.Handler{
		Sink:          st,
		AcceptReports: cfg.AcceptReports,
		Logger:        log.With("component", "report"),
	})

	pages := mw.Wrap(&pageHandler{mw: mw, log: log})
	r.Get("/", pages.ServeHTTP)
	r.Get("/pages/{page}", pages.ServeHTTP)
	return r
}

// pageHandler serves a small HTML page per page ID. Pages carry their own
// policy, linked by ID, on top of the base policy.
type pageHandler struct {
	mw  *middleware.Middleware
	log logging.Logger
}

var _ middleware.PageHandler = (*pageHandler)(nil)

const homePage = "home"

func (h *pageHandler) CSPPageID(r *http.Request) (string, bool) {
	if id := chi.URLParam(r, "page"); id != "" {
		return id, true
	}
	return homePage, true
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><title>%[1]s</title></head>
<body>
<h1>%[1]s</h1>
<p id="status">loading</p>
</body>
</html>
`

func (h *pageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := h.CSPPageID(r)

	n, err := middleware.Nonce(r)
	if err != nil {
		h.log.Error(ctx, "creating nonce", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	req := h.mw.Requirements()
	req.WriteJSToBody = true
	req.CustomScript(`document.getElementById("status").textContent = "ready";`)
	if err := req.CustomCSS("h1 { font-family: sans-serif; } #status { color: #555; }"); err != nil {
		h.log.Warn(ctx, "adding page style", "error", err)
	}

	page, err := req.IncludeInHTML(fmt.Sprintf(pageTemplate, html.EscapeString(id)), n)
	if err != nil {
		h.log.Warn(ctx, "including page requirements", "error", err, "page", id)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}
