package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/directory"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/history"
	"estate_crm_backend/internal/leads/intake"
	"estate_crm_backend/internal/leads/memstore"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/internal/leads/tasks"
	"estate_crm_backend/internal/leads/transport"
	"estate_crm_backend/platform/events"
	"estate_crm_backend/platform/httpkit"
	"estate_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type testServer struct {
	store  *memstore.Store
	router *gin.Engine
	clock  time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{store: memstore.New(), clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	now := func() time.Time { return s.clock }
	bus := events.NewInMemoryBus(logger.Discard())
	log := history.New(s.store, time.Second)

	engine := assignment.NewEngine(s.store, log, bus, nil, nil, assignment.Options{Timeout: time.Second, Now: now})
	manager := tasks.NewManager(s.store, domain.DefaultFollowUpPolicy(), nil, nil, tasks.Options{Timeout: time.Second, Now: now})
	svc := intake.New(s.store, engine, manager, bus, nil, intake.Options{Timeout: time.Second, Now: now})
	sweeper := sla.NewSweeper(s.store, engine, manager, bus, nil, nil, sla.Options{Now: now})

	h := New(svc, directory.New(s.store, time.Second), log, manager, sweeper, nil)

	actor := uuid.New()
	s.router = gin.New()
	api := s.router.Group("/api/v1", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, actor)
		c.Set(httpkit.ContextRolesKey, []string{httpkit.RoleAdmin})
	})
	h.RegisterRoutes(api)
	h.RegisterAdminRoutes(api.Group("/admin", httpkit.RequireRole(httpkit.RoleAdmin)))
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func (s *testServer) createLead(t *testing.T) transport.CreateLeadResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/leads", map[string]string{
		"consumerName":  "Dana Park",
		"consumerPhone": "+1 415 555 2671",
	})
	if rec.Code != http.StatusCreated && rec.Code != http.StatusAccepted {
		t.Fatalf("create lead status = %d body = %s", rec.Code, rec.Body.String())
	}
	return decode[transport.CreateLeadResponse](t, rec)
}

func TestCreateLeadRoutesToAgent(t *testing.T) {
	s := newTestServer(t)
	agent := s.store.AddAgent("Ana", "ana@example.com", domain.AgentStatusActive, s.clock)

	created := s.createLead(t)
	if created.AssignmentPending {
		t.Fatal("lead should be assigned")
	}
	if created.Lead.AssignedAgentID == nil || *created.Lead.AssignedAgentID != agent.ID {
		t.Fatalf("assigned to %v, want %s", created.Lead.AssignedAgentID, agent.ID)
	}
	if created.FollowUp == nil || created.FollowUp.Origin != "auto_followup" {
		t.Fatalf("follow-up = %+v", created.FollowUp)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/leads/"+created.Lead.ID.String()+"/assignments", nil)
	history := decode[transport.AssignmentListResponse](t, rec)
	if len(history.Items) != 1 || history.Items[0].Reason != "initial" {
		t.Fatalf("history = %+v", history.Items)
	}

	agents := decode[transport.AgentListResponse](t, s.do(t, http.MethodGet, "/api/v1/agents", nil))
	if len(agents.Items) != 1 || agents.Items[0].ActiveLeadCount != 1 {
		t.Fatalf("agents = %+v", agents.Items)
	}
}

func TestCreateLeadWithoutAgentsIsAccepted(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/leads", map[string]string{"consumerName": "Dana", "consumerPhone": "4155552671"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	body := decode[transport.CreateLeadResponse](t, rec)
	if !body.AssignmentPending || body.Code != domain.CodeNoEligibleAgent {
		t.Fatalf("body = %+v", body)
	}
}

func TestCreateLeadValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/leads", map[string]string{"consumerName": "Dana"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decode[httpkit.ErrorResponse](t, rec)
	details, _ := body.Details.(map[string]interface{})
	if _, ok := details["consumerPhone"]; !ok {
		t.Fatalf("details = %v, want consumerPhone rule", body.Details)
	}
}

func TestStatusTransitionErrors(t *testing.T) {
	s := newTestServer(t)
	s.store.AddAgent("Ana", "ana@example.com", domain.AgentStatusActive, s.clock)
	id := s.createLead(t).Lead.ID.String()

	if rec := s.do(t, http.MethodPatch, "/api/v1/leads/"+id+"/status", map[string]string{"status": "won"}); rec.Code != http.StatusOK {
		t.Fatalf("close status = %d", rec.Code)
	}

	rec := s.do(t, http.MethodPatch, "/api/v1/leads/"+id+"/status", map[string]string{"status": "contacted"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("reopen status = %d, want 409", rec.Code)
	}
	if body := decode[httpkit.ErrorResponse](t, rec); body.Code != domain.CodeInvalidTransition {
		t.Fatalf("code = %q", body.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/leads/"+id+"/tasks", map[string]string{"title": "Call back"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("task on closed lead status = %d, want 409", rec.Code)
	}
	body := decode[httpkit.ErrorResponse](t, rec)
	if body.Code != domain.CodeLeadTerminal || body.Error != domain.MsgLeadTerminal {
		t.Fatalf("body = %+v", body)
	}
}

func TestCompleteTaskRollsFollowUp(t *testing.T) {
	s := newTestServer(t)
	s.store.AddAgent("Ana", "ana@example.com", domain.AgentStatusActive, s.clock)
	created := s.createLead(t)

	path := "/api/v1/tasks/" + created.FollowUp.ID.String() + "/complete"
	rec := s.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decode[transport.CompleteTaskResponse](t, rec)
	if body.Task.Status != "completed" || body.Next == nil {
		t.Fatalf("completion = %+v", body)
	}

	rec = s.do(t, http.MethodPost, path, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second completion status = %d, want 409", rec.Code)
	}
}

func TestAdminSweepReassignsBreachedLead(t *testing.T) {
	s := newTestServer(t)
	s.store.AddAgent("Ana", "ana@example.com", domain.AgentStatusActive, s.clock)
	s.store.AddAgent("Ben", "ben@example.com", domain.AgentStatusActive, s.clock)
	created := s.createLead(t)

	s.clock = s.clock.Add(31 * time.Minute)
	rec := s.do(t, http.MethodPost, "/api/v1/admin/sla/sweep", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d body = %s", rec.Code, rec.Body.String())
	}
	result := decode[transport.SweepResponse](t, rec)
	if result.Reassigned != 1 {
		t.Fatalf("sweep = %+v, want one reassignment", result)
	}

	lead, err := s.store.GetLead(context.Background(), created.Lead.ID)
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if *lead.AssignedAgentID == *created.Lead.AssignedAgentID || lead.ReassignmentCount != 1 {
		t.Fatalf("lead = %+v", lead)
	}
}

func TestGetLeadErrors(t *testing.T) {
	s := newTestServer(t)

	if rec := s.do(t, http.MethodGet, "/api/v1/leads/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/leads/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing lead status = %d", rec.Code)
	}
}
