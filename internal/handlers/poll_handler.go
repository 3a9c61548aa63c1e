package handlers

import (
	"strconv"

	"polity/internal/middleware"
	"polity/internal/models"
	"polity/internal/services"
	"polity/pkg/pagination"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// PollHandler 投票接口
type PollHandler struct {
	polls *services.PollService
}

func NewPollHandler(polls *services.PollService) *PollHandler {
	return &PollHandler{polls: polls}
}

// CreatePollRequest 创建投票请求
type CreatePollRequest struct {
	Type             string             `json:"type" binding:"required,oneof=authority multiple_choice policy_change share"`
	Name             string             `json:"name" binding:"required,min=1,max=200"`
	QuestionBody     string             `json:"question_body" binding:"max=5000"`
	Options          []string           `json:"options" binding:"omitempty,min=2,max=20,dive,required,max=200"`
	PolicyID         *uint              `json:"policy_id"`
	SettingsOverride map[string]float64 `json:"settings_override"`
}

// CastVoteRequest 投一行票
type CastVoteRequest struct {
	Value       *int  `json:"value" binding:"required"`
	VotedUserID *uint `json:"voted_user_id"`
	Option      *int  `json:"option"`
}

// SubmitBallotRequest 一次提交完整分配
type SubmitBallotRequest struct {
	Allocations []services.Allocation `json:"allocations" binding:"required,min=1,dive"`
}

// ListActive 当前进行中的投票
func (h *PollHandler) ListActive(c *gin.Context) {
	polls, err := h.polls.GetActivePolls(middleware.TenantScope(c))
	if err != nil {
		handleError(c, err, "查询进行中的投票")
		return
	}
	response.Success(c, polls)
}

// List 分页查询投票，支持按类型和状态筛选
func (h *PollHandler) List(c *gin.Context) {
	pageParams := pagination.ParsePageParams(c)

	filter := services.PollFilter{Type: models.PollType(c.Query("type"))}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			response.BadRequest(c, "active 参数格式错误")
			return
		}
		filter.Active = &active
	}
	if filter.Type != "" && !filter.Type.Valid() {
		response.BadRequest(c, "未知投票类型")
		return
	}

	polls, total, err := h.polls.ListPolls(middleware.TenantScope(c), filter, pageParams)
	if err != nil {
		handleError(c, err, "查询投票")
		return
	}
	response.Paged(c, polls, pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total))
}

// Create 创建投票，发起人为当前用户
func (h *PollHandler) Create(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	overrides := make(map[models.SettingKey]float64, len(req.SettingsOverride))
	for key, value := range req.SettingsOverride {
		overrides[models.SettingKey(key)] = value
	}

	poll, err := h.polls.AddPoll(c.Request.Context(), middleware.TenantScope(c), services.CreatePollInput{
		Type:             models.PollType(req.Type),
		Name:             req.Name,
		QuestionBody:     req.QuestionBody,
		Options:          req.Options,
		PolicyID:         req.PolicyID,
		SettingsOverride: overrides,
		OwnerUserID:      middleware.CurrentUserID(c),
	})
	if err != nil {
		handleError(c, err, "创建投票")
		return
	}
	response.Success(c, poll)
}

// Get 投票详情
func (h *PollHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	poll, err := h.polls.GetPoll(middleware.TenantScope(c), id)
	if err != nil {
		handleError(c, err, "查询投票")
		return
	}
	response.Success(c, poll)
}

// Result 投票结果，进行中的投票结果为空
func (h *PollHandler) Result(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	view, err := h.polls.GetPollResult(middleware.TenantScope(c), id)
	if err != nil {
		handleError(c, err, "查询投票结果")
		return
	}
	response.Success(c, view)
}

// CastVote 当前用户投一行票
func (h *PollHandler) CastVote(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	receipt, err := h.polls.CastVote(c.Request.Context(), middleware.TenantScope(c), services.CastVoteInput{
		PollID:      id,
		VoterID:     middleware.CurrentUserID(c),
		Value:       *req.Value,
		VotedUserID: req.VotedUserID,
		Option:      req.Option,
	})
	if err != nil {
		handleError(c, err, "投票")
		return
	}
	response.Success(c, receipt)
}

// SubmitBallot 替换当前用户的完整分配
func (h *PollHandler) SubmitBallot(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req SubmitBallotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	votes, err := h.polls.SubmitBallot(c.Request.Context(), middleware.TenantScope(c), middleware.CurrentUserID(c), id, req.Allocations)
	if err != nil {
		handleError(c, err, "提交选票")
		return
	}
	response.Success(c, votes)
}

// GetBallot 当前用户自己的选票
func (h *PollHandler) GetBallot(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	votes, err := h.polls.GetBallot(middleware.TenantScope(c), id, middleware.CurrentUserID(c))
	if err != nil {
		handleError(c, err, "查询选票")
		return
	}
	response.Success(c, votes)
}

// RetractBallot 撤回当前用户的选票
func (h *PollHandler) RetractBallot(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	deleted, err := h.polls.RetractBallot(c.Request.Context(), middleware.TenantScope(c), middleware.CurrentUserID(c), id)
	if err != nil {
		handleError(c, err, "撤回选票")
		return
	}
	response.Message(c, "选票已撤回", gin.H{"deleted": deleted})
}

// Votes 已结束投票的全部选票
func (h *PollHandler) Votes(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	votes, err := h.polls.GetVotes(middleware.TenantScope(c), id)
	if err != nil {
		handleError(c, err, "查询选票")
		return
	}
	response.Success(c, votes)
}

// Evaluate 立即检查投票是否应当结束（租户管理员）
func (h *PollHandler) Evaluate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	completion, err := h.polls.EvaluateCompletion(c.Request.Context(), middleware.TenantScope(c), id)
	if err != nil {
		handleError(c, err, "结束投票")
		return
	}
	if completion == nil {
		response.Message(c, "投票尚未满足结束条件", nil)
		return
	}
	response.Success(c, completion)
}
