package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"demarches/internal/assessment"
	"demarches/internal/calendar"
	"demarches/internal/deadline"
	"demarches/internal/eligibility"
	"demarches/internal/jurisdiction/models"
	"demarches/internal/platform/metrics"
	"demarches/internal/ratelimit"
	"demarches/internal/transport/http/mocks"
	"demarches/pkg/platform/httputil"
	"demarches/pkg/platform/sentinel"
	"demarches/pkg/testutil"
)

//go:generate mockgen -source=handlers.go -destination=mocks/mocks.go -package=mocks Resolver,Evaluator,Assessor

const completeProfile = `{
	"applicant": {"birth_date": "1991-04-02", "nationality": "FR", "residency_status": "citizen"},
	"dependents": [{"birth_date": "2020-05-05"}],
	"monthly_net_income": 0,
	"housing": {"status": "hosted"}
}`

type HandlerSuite struct {
	suite.Suite
	resolver  *mocks.MockResolver
	evaluator *mocks.MockEvaluator
	assessor  *mocks.MockAssessor
	registry  *prometheus.Registry
	now       time.Time
	router    http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.resolver = mocks.NewMockResolver(ctrl)
	s.evaluator = mocks.NewMockEvaluator(ctrl)
	s.assessor = mocks.NewMockAssessor(ctrl)
	s.registry = prometheus.NewRegistry()
	s.now = time.Date(2025, 12, 10, 9, 30, 0, 0, time.UTC)

	h := NewHandler(s.resolver, s.evaluator, s.assessor, nil)
	s.router = NewRouter(h, RouterConfig{
		Metrics:  metrics.New(s.registry),
		Gatherer: s.registry,
		Clock:    func() time.Time { return s.now },
		HealthChecks: map[string]HealthCheck{
			"cache": func(context.Context) error { return nil },
		},
	})
}

func (s *HandlerSuite) post(path, body string) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, path, body))
}

func rivoli() *models.Jurisdiction {
	return &models.Jurisdiction{
		Code: models.AdministrativeCode{
			CommuneCode:    "75101",
			DepartmentCode: "75",
			RegionCode:     "11",
			CommuneName:    "Paris 1er Arrondissement",
		},
		PrefectureID: "pref-75",
		CAFOfficeID:  "caf-751",
		CPAMOfficeID: "cpam-751",
		HolidayZone:  calendar.ZoneMetropole,
	}
}

func (s *HandlerSuite) TestResolve() {
	s.Run("returns the jurisdiction", func() {
		s.resolver.EXPECT().Resolve(gomock.Any(), "12 Rue de Rivoli, 75001 Paris").Return(rivoli(), nil)

		w := s.post("/v1/jurisdictions/resolve", `{"address":"12 Rue de Rivoli, 75001 Paris"}`)

		s.Equal(http.StatusOK, w.Code)
		var got models.Jurisdiction
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("75101", got.Code.CommuneCode)
		s.Equal("caf-751", got.CAFOfficeID)
		s.NotEmpty(w.Header().Get("X-Request-ID"))
	})

	s.Run("unresolvable address asks for more detail", func() {
		s.resolver.EXPECT().Resolve(gomock.Any(), "???invalid???").
			Return(nil, fmt.Errorf("resolve: %w: no candidate", sentinel.ErrUnresolvableAddress))

		w := s.post("/v1/jurisdictions/resolve", `{"address":"???invalid???"}`)

		body := testutil.AssertStatusAndError(s.T(), w, http.StatusUnprocessableEntity, "unresolvable_address")
		s.Equal(httputil.AddressPrompt, body.ErrorDescription)
	})

	s.Run("unsupported jurisdiction", func() {
		s.resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrUnsupportedJurisdiction)

		w := s.post("/v1/jurisdictions/resolve", `{"address":"1 rue de la Paix, Nouméa"}`)

		testutil.AssertStatusAndError(s.T(), w, http.StatusUnprocessableEntity, "unsupported_jurisdiction")
	})

	s.Run("missing address is rejected before resolving", func() {
		w := s.post("/v1/jurisdictions/resolve", `{}`)

		body := testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "bad_request")
		s.Contains(body.ErrorDescription, "address")
	})

	s.Run("unknown fields are rejected", func() {
		w := s.post("/v1/jurisdictions/resolve", `{"adress":"typo"}`)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("non JSON bodies are refused", func() {
		req := httptest.NewRequest(http.MethodPost, "/v1/jurisdictions/resolve", strings.NewReader("address=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		s.Equal(http.StatusUnsupportedMediaType, w.Code)
	})
}

func (s *HandlerSuite) TestEvaluate() {
	s.Run("returns results in catalog order", func() {
		j := rivoli()
		s.resolver.EXPECT().Resolve(gomock.Any(), "12 Rue de Rivoli, 75001 Paris").Return(j, nil)
		s.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), j).
			DoAndReturn(func(_ context.Context, p eligibility.HouseholdProfile, _ *models.Jurisdiction) ([]eligibility.Result, error) {
				s.Equal(time.Date(1991, 4, 2, 0, 0, 0, 0, time.UTC), p.Applicant.BirthDate)
				s.Len(p.Dependents, 1)
				s.Require().NotNil(p.MonthlyNetIncome)
				s.Equal(int64(0), *p.MonthlyNetIncome)
				return []eligibility.Result{
					{BenefitID: "rsa", Eligible: true, EstimatedAmount: 81241, Period: eligibility.PeriodMonth},
					{BenefitID: "prime_activite", Eligible: false, Period: eligibility.PeriodMonth},
				}, nil
			})

		w := s.post("/v1/eligibility/evaluate", `{"address":"12 Rue de Rivoli, 75001 Paris","profile":`+completeProfile+`}`)

		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		got := testutil.UnmarshalResponse[evaluateResponse](s.T(), w)
		s.Require().Len(got.Results, 2)
		s.Equal("rsa", got.Results[0].BenefitID)
		s.Equal(int64(81241), got.Results[0].EstimatedAmount)
		s.Equal("75101", got.Jurisdiction.Code.CommuneCode)
	})

	s.Run("incomplete profile is rejected before resolving", func() {
		profile := `{"applicant":{"birth_date":"1991-04-02","nationality":"FR","residency_status":"citizen"},"housing":{"status":"hosted"}}`

		w := s.post("/v1/eligibility/evaluate", `{"address":"12 Rue de Rivoli","profile":`+profile+`}`)

		body := testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "incomplete_profile")
		s.Contains(body.ErrorDescription, "monthly_net_income")
	})

	s.Run("malformed dates are bad requests", func() {
		profile := strings.Replace(completeProfile, "1991-04-02", "02/04/1991", 1)

		w := s.post("/v1/eligibility/evaluate", `{"address":"12 Rue de Rivoli","profile":`+profile+`}`)

		testutil.AssertStatusAndError(s.T(), w, http.StatusBadRequest, "bad_request")
	})

	s.Run("simulator failure is a bad gateway", func() {
		s.resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(rivoli(), nil)
		s.evaluator.EXPECT().Evaluate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("evaluate: %w", sentinel.ErrSimulationFailed))

		w := s.post("/v1/eligibility/evaluate", `{"address":"12 Rue de Rivoli","profile":`+completeProfile+`}`)

		testutil.AssertStatusAndError(s.T(), w, http.StatusBadGateway, "simulation_failed")
	})
}

func (s *HandlerSuite) TestAssess() {
	s.Run("defaults as_of to the request time", func() {
		j := rivoli()
		due := calendar.Date(2026, 1, 2)
		s.assessor.EXPECT().Assess(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req assessment.Request) (*assessment.Assessment, error) {
				s.Equal(s.now, req.AsOf)
				s.Equal("household-42", req.HouseholdID)
				return &assessment.Assessment{
					Jurisdiction: j,
					Deadlines: []deadline.Deadline{{
						Type:               deadline.TypeCAFDeclaration,
						Date:               due,
						Stage:              deadline.StagePreparing,
						ReminderDaysBefore: 5,
						RuleID:             "caf_quarterly_declaration",
					}},
					AsOf: req.AsOf,
				}, nil
			})

		w := s.post("/v1/assessments", `{"household_id":"household-42","address":"12 Rue de Rivoli","profile":`+completeProfile+`}`)

		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		var got map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("2025-12-10", got["as_of"])
		deadlines := got["deadlines"].([]any)
		s.Require().Len(deadlines, 1)
		first := deadlines[0].(map[string]any)
		s.Equal("caf_declaration", first["type"])
		s.Equal("2025-12-28", first["reminder_date"])
	})

	s.Run("explicit as_of is used", func() {
		s.assessor.EXPECT().Assess(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req assessment.Request) (*assessment.Assessment, error) {
				s.Equal(calendar.Date(2026, 3, 1), req.AsOf)
				return &assessment.Assessment{Jurisdiction: rivoli(), AsOf: req.AsOf}, nil
			})

		w := s.post("/v1/assessments", `{"address":"12 Rue de Rivoli","as_of":"2026-03-01","profile":`+completeProfile+`}`)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("invalid as_of", func() {
		w := s.post("/v1/assessments", `{"address":"12 Rue de Rivoli","as_of":"tomorrow","profile":`+completeProfile+`}`)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("upstream outage is a service unavailable", func() {
		s.assessor.EXPECT().Assess(gomock.Any(), gomock.Any()).
			Return(nil, fmt.Errorf("assess: %w", sentinel.ErrUpstreamUnavailable))

		w := s.post("/v1/assessments", `{"address":"12 Rue de Rivoli","profile":`+completeProfile+`}`)

		testutil.AssertStatusAndError(s.T(), w, http.StatusServiceUnavailable, "upstream_unavailable")
	})

	s.Run("unexpected errors hide their detail", func() {
		s.assessor.EXPECT().Assess(gomock.Any(), gomock.Any()).Return(nil, errors.New("pool exhausted"))

		w := s.post("/v1/assessments", `{"address":"12 Rue de Rivoli","profile":`+completeProfile+`}`)

		s.Equal(http.StatusInternalServerError, w.Code)
		s.NotContains(w.Body.String(), "pool exhausted")
	})
}

func (s *HandlerSuite) TestTransition() {
	submitted := `{"id":"6f1c8d4e-52b7-5c3a-9d1e-0a4b2c3d4e5f","type":"caf_declaration","date":"2026-01-02T00:00:00Z","stage":"submitted","reminder_days_before":5,"rule_id":"caf_quarterly_declaration"}`

	s.Run("advances forward", func() {
		w := s.post("/v1/deadlines/transition", `{"deadline":`+submitted+`,"to":"complete"}`)

		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		var got map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("complete", got["stage"])
		s.Equal(true, got["completed"])
	})

	s.Run("refuses to go back", func() {
		w := s.post("/v1/deadlines/transition", `{"deadline":`+submitted+`,"to":"preparing"}`)

		testutil.AssertStatusAndError(s.T(), w, http.StatusConflict, "invalid_state")
	})

	s.Run("correct mode goes back", func() {
		w := s.post("/v1/deadlines/transition", `{"deadline":`+submitted+`,"to":"preparing","mode":"correct"}`)

		s.Require().Equal(http.StatusOK, w.Code)
		var got map[string]any
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("preparing", got["stage"])
	})

	s.Run("unknown stage", func() {
		w := s.post("/v1/deadlines/transition", `{"deadline":`+submitted+`,"to":"archived"}`)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("unknown mode", func() {
		w := s.post("/v1/deadlines/transition", `{"deadline":`+submitted+`,"to":"complete","mode":"force"}`)
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *HandlerSuite) TestOperationalEndpoints() {
	s.Run("health reports each check", func() {
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		s.Equal(http.StatusOK, w.Code)
		var got healthResponse
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("ok", got.Status)
		s.Equal("ok", got.Checks["cache"])
	})

	s.Run("metrics expose request latency", func() {
		s.post("/v1/jurisdictions/resolve", `{}`)

		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		s.Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `demarches_http_request_duration_seconds_count{route="/v1/jurisdictions/resolve",status="400"}`)
	})
}

func TestHealthDegraded(t *testing.T) {
	router := NewRouter(NewHandler(nil, nil, nil, nil), RouterConfig{
		HealthChecks: map[string]HealthCheck{
			"cache": func(context.Context) error { return errors.New("connection refused") },
		},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "degraded", got.Status)
	assert.Equal(t, "connection refused", got.Checks["cache"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := NewRouter(NewHandler(nil, nil, nil, nil), RouterConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRateLimitedRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)
	resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(rivoli(), nil).Times(1)

	router := NewRouter(NewHandler(resolver, nil, nil, nil), RouterConfig{
		RateLimiter: ratelimit.NewMiddleware(ratelimit.NewInMemoryStore(), time.Minute, nil),
		RateLimit:   3,
	})
	post := func(path, body string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:51000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post("/v1/jurisdictions/resolve", `{"address":"12 Rue de Rivoli"}`))
	assert.Equal(t, http.StatusTooManyRequests, post("/v1/jurisdictions/resolve", `{"address":"12 Rue de Rivoli"}`),
		"a resolve costs two of the three units")
	assert.Equal(t, http.StatusBadRequest, post("/v1/deadlines/transition", `{}`), "transitions are not charged")
}
