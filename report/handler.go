package report

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/secinto/go-csp-policy/logging"
)

// MaxBodySize caps the bytes read from a report request.
const MaxBodySize = 64 << 10

// Sink stores received reports.
type Sink interface {
	InsertReport(ctx context.Context, r *ViolationReport) error
}

// Handler ingests violation reports. It answers 204 No Content to every
// request so browsers learn nothing about storage outcomes.
type Handler struct {
	Sink          Sink
	AcceptReports bool
	Logger        logging.Logger
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusNoContent)

	if r.Method != http.MethodPost || !h.AcceptReports {
		return
	}
	log := logging.OrNop(h.Logger)
	ctx := r.Context()

	contentType := r.Header.Get("Content-Type")
	if !Accepted(contentType) {
		log.Debug(ctx, "report with unsupported content type", "content_type", contentType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		log.Warn(ctx, "reading report body", "error", err)
		return
	}

	reports := ParseAll(body, contentType, r.UserAgent())
	if len(reports) == 0 {
		log.Warn(ctx, "no violation in report body", "content_type", contentType, "size", len(body))
		return
	}
	for i := range reports {
		rep := &reports[i]
		if rep.ID == uuid.Nil {
			rep.ID = uuid.New()
		}
		if err := h.Sink.InsertReport(ctx, rep); err != nil {
			log.Error(ctx, "storing violation report", "error", err, "document", rep.DocumentURI)
			continue
		}
		log.Debug(ctx, "violation report stored",
			"id", rep.ID.String(), "directive", rep.EffectiveDirective, "blocked", rep.BlockedURI)
	}
}
