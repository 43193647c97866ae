package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"estate_crm_backend/internal/leads/assignment"
	"estate_crm_backend/internal/leads/domain"
	"estate_crm_backend/internal/leads/intake"
	"estate_crm_backend/internal/leads/sla"
	"estate_crm_backend/internal/leads/tasks"
	"estate_crm_backend/internal/leads/transport"
	"estate_crm_backend/platform/apperr"
	"estate_crm_backend/platform/httpkit"
	"estate_crm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

// Intake is the lead lifecycle surface.
type Intake interface {
	CreateLead(ctx context.Context, in intake.CreateLeadInput) (intake.CreateLeadResult, error)
	GetLead(ctx context.Context, leadID uuid.UUID) (domain.Lead, error)
	UpdateStatus(ctx context.Context, leadID uuid.UUID, status string) (domain.Lead, error)
	LogContactOutcome(ctx context.Context, leadID uuid.UUID, outcome string) (domain.Lead, error)
	ResolveUnreachable(ctx context.Context, leadID uuid.UUID) (domain.Lead, error)
	Reassign(ctx context.Context, leadID uuid.UUID) (assignment.Result, error)
}

type Agents interface {
	List(ctx context.Context, activeOnly bool) ([]domain.Agent, error)
}

type History interface {
	History(ctx context.Context, leadID uuid.UUID) ([]domain.AssignmentRecord, error)
}

type Tasks interface {
	ListTasks(ctx context.Context, leadID uuid.UUID) ([]domain.Task, error)
	CreateManualFollowUp(ctx context.Context, req tasks.ManualFollowUp) (domain.Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) (tasks.Completion, error)
}

type Sweeps interface {
	Sweep(ctx context.Context, window time.Duration) (sla.Result, error)
	Window() time.Duration
}

type Handler struct {
	intake  Intake
	agents  Agents
	history History
	tasks   Tasks
	sweeps  Sweeps
	val     *validator.Validator
}

func New(intake Intake, agents Agents, history History, tasks Tasks, sweeps Sweeps, val *validator.Validator) *Handler {
	if val == nil {
		val = validator.New()
	}
	return &Handler{intake: intake, agents: agents, history: history, tasks: tasks, sweeps: sweeps, val: val}
}

// RegisterRoutes mounts the agent-facing routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/leads", h.CreateLead)
	rg.GET("/leads/:id", h.GetLead)
	rg.PATCH("/leads/:id/status", h.UpdateStatus)
	rg.POST("/leads/:id/outcomes", h.LogOutcome)
	rg.GET("/leads/:id/assignments", h.ListAssignments)
	rg.GET("/leads/:id/tasks", h.ListTasks)
	rg.POST("/leads/:id/tasks", h.CreateTask)
	rg.POST("/tasks/:id/complete", h.CompleteTask)
	rg.GET("/agents", h.ListAgents)
}

// RegisterAdminRoutes mounts the routes reserved for admins. The caller
// applies the role middleware.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/leads/:id/reassign", h.Reassign)
	rg.POST("/leads/:id/resolve-unreachable", h.ResolveUnreachable)
	rg.POST("/sla/sweep", h.RunSweep)
}

func (h *Handler) CreateLead(c *gin.Context) {
	var req transport.CreateLeadRequest
	if !h.bind(c, &req) {
		return
	}

	result, err := h.intake.CreateLead(c.Request.Context(), intake.CreateLeadInput{
		ConsumerName:  req.ConsumerName,
		ConsumerPhone: req.ConsumerPhone,
		ConsumerEmail: req.ConsumerEmail,
		Source:        req.Source,
	})
	if err != nil {
		// The lead is stored; routing is retried by the sweep's orphan recovery.
		if result.Lead.ID != uuid.Nil && errors.Is(err, domain.ErrNoEligibleAgent) {
			_ = c.Error(err)
			httpkit.JSON(c, http.StatusAccepted, transport.CreateLeadResponse{
				Lead:              transport.ToLeadResponse(result.Lead),
				AssignmentPending: true,
				Code:              domain.CodeNoEligibleAgent,
			})
			return
		}
		httpkit.HandleError(c, domain.AppError(err))
		return
	}

	resp := transport.CreateLeadResponse{Lead: transport.ToLeadResponse(result.Lead)}
	if result.FollowUp != nil {
		task := transport.ToTaskResponse(*result.FollowUp)
		resp.FollowUp = &task
	}
	httpkit.JSON(c, http.StatusCreated, resp)
}

func (h *Handler) GetLead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	lead, err := h.intake.GetLead(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.UpdateStatusRequest
	if !h.bind(c, &req) {
		return
	}

	lead, err := h.intake.UpdateStatus(c.Request.Context(), id, req.Status)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) LogOutcome(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req transport.LogOutcomeRequest
	if !h.bind(c, &req) {
		return
	}

	lead, err := h.intake.LogContactOutcome(c.Request.Context(), id, req.Outcome)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) ListAssignments(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.intake.GetLead(c.Request.Context(), id); httpkit.HandleError(c, domain.AppError(err)) {
		return
	}

	records, err := h.history.History(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToAssignmentList(records))
}

func (h *Handler) ListTasks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.intake.GetLead(c.Request.Context(), id); httpkit.HandleError(c, domain.AppError(err)) {
		return
	}

	items, err := h.tasks.ListTasks(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToTaskList(items))
}

func (h *Handler) CreateTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, ok := httpkit.MustGetIdentity(c)
	if !ok {
		return
	}
	var req transport.CreateTaskRequest
	if !h.bind(c, &req) {
		return
	}

	followUp := tasks.ManualFollowUp{LeadID: id, Title: req.Title, CreatedBy: actor.Actor()}
	if req.DueAt != nil {
		followUp.DueAt = req.DueAt.UTC()
	}
	task, err := h.tasks.CreateManualFollowUp(c.Request.Context(), followUp)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, transport.ToTaskResponse(task))
}

func (h *Handler) CompleteTask(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	completion, err := h.tasks.CompleteTask(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToCompleteTaskResponse(completion))
}

func (h *Handler) ListAgents(c *gin.Context) {
	var query transport.ListAgentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	agents, err := h.agents.List(c.Request.Context(), !query.IncludeInactive)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToAgentList(agents))
}

func (h *Handler) Reassign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := h.intake.Reassign(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ReassignResponse{
		Lead:       transport.ToLeadResponse(result.Lead),
		Assignment: transport.ToAssignmentResponse(result.Record),
	})
}

func (h *Handler) ResolveUnreachable(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	lead, err := h.intake.ResolveUnreachable(c.Request.Context(), id)
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) RunSweep(c *gin.Context) {
	var req transport.SweepRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	window := h.sweeps.Window()
	if req.WindowMinutes != nil {
		window = time.Duration(*req.WindowMinutes) * time.Minute
	}

	result, err := h.sweeps.Sweep(c.Request.Context(), window)
	if errors.Is(err, sla.ErrSweepInProgress) {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindConflict, "an SLA sweep is already running", err).WithCode("sweep_in_progress"))
		return
	}
	if httpkit.HandleError(c, domain.AppError(err)) {
		return
	}
	httpkit.OK(c, transport.ToSweepResponse(result))
}

func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return false
	}
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
