package httptransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"demarches/internal/assessment"
	"demarches/internal/deadline"
	"demarches/internal/eligibility"
	"demarches/internal/jurisdiction/models"
	"demarches/internal/platform/middleware"
	"demarches/pkg/platform/httputil"
	"demarches/pkg/platform/sentinel"
	"demarches/pkg/platform/validation"
	"demarches/pkg/requestcontext"
)

type Resolver interface {
	Resolve(ctx context.Context, address string) (*models.Jurisdiction, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, profile eligibility.HouseholdProfile, j *models.Jurisdiction) ([]eligibility.Result, error)
}

type Assessor interface {
	Assess(ctx context.Context, req assessment.Request) (*assessment.Assessment, error)
}

// Handler is the thin HTTP layer over the pipeline services.
type Handler struct {
	resolver  Resolver
	evaluator Evaluator
	assessor  Assessor
	logger    *slog.Logger
}

func NewHandler(resolver Resolver, evaluator Evaluator, assessor Assessor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		resolver:  resolver,
		evaluator: evaluator,
		assessor:  assessor,
		logger:    logger,
	}
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "resolve jurisdiction", err)
		return
	}
	j, err := h.resolver.Resolve(r.Context(), req.Address)
	if err != nil {
		h.fail(w, r, "resolve jurisdiction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, j)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "evaluate eligibility", err)
		return
	}
	profile, err := req.Profile.toProfile()
	if err != nil {
		h.fail(w, r, "evaluate eligibility", err)
		return
	}
	// Reject incomplete profiles before spending a geocoding call.
	if err := eligibility.ValidateProfile(profile); err != nil {
		h.fail(w, r, "evaluate eligibility", err)
		return
	}

	j, err := h.resolver.Resolve(r.Context(), req.Address)
	if err != nil {
		h.fail(w, r, "evaluate eligibility", err)
		return
	}
	results, err := h.evaluator.Evaluate(r.Context(), profile, j)
	if err != nil {
		h.fail(w, r, "evaluate eligibility", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, evaluateResponse{Jurisdiction: j, Results: results})
}

func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req assessmentRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "assess household", err)
		return
	}
	profile, err := req.Profile.toProfile()
	if err != nil {
		h.fail(w, r, "assess household", err)
		return
	}
	asOf := requestcontext.Now(r.Context())
	if req.AsOf != "" {
		if asOf, err = date("as_of", req.AsOf); err != nil {
			h.fail(w, r, "assess household", err)
			return
		}
	}

	a, err := h.assessor.Assess(r.Context(), assessment.Request{
		HouseholdID: req.HouseholdID,
		Address:     req.Address,
		Profile:     profile,
		AsOf:        asOf,
	})
	if err != nil {
		h.fail(w, r, "assess household", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assessmentResponse{
		Jurisdiction: a.Jurisdiction,
		Eligibility:  a.Eligibility,
		Deadlines:    toDeadlineResponses(a.Deadlines),
		AsOf:         a.AsOf.Format(time.DateOnly),
	})
}

// handleTransition moves a deadline to another stage. The default mode only moves forward;
// "correct" allows going back.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "transition deadline", err)
		return
	}

	to := deadline.Stage(req.To)
	var (
		next deadline.Deadline
		err  error
	)
	if req.Mode == "correct" {
		next, err = deadline.Correct(req.Deadline, to)
	} else {
		next, err = deadline.Advance(req.Deadline, to)
	}
	if err != nil {
		h.fail(w, r, "transition deadline", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDeadlineResponse(next))
}

// fail logs err at a level matching its status and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	status, code, _ := httputil.Classify(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", middleware.GetRequestID(ctx),
		"status", status,
		"error_code", code,
		"error", err,
	)
	httputil.WriteError(w, err)
}

// decode reads and validates a request DTO.
func decode(r *http.Request, v any) error {
	if err := httputil.DecodeJSON(r, v); err != nil {
		return err
	}
	problems, err := validation.Struct(v)
	if err != nil {
		return fmt.Errorf("validate request: %w", err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", sentinel.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
