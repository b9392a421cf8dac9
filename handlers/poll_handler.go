package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"polls-backend/models"
	"polls-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultDurationHours 未指定时长时投票持续的小时数
const DefaultDurationHours = 24

// CreatePollRequest 创建投票请求
type CreatePollRequest struct {
	Title         string   `json:"title" binding:"required"`
	Options       []string `json:"options" binding:"required"`
	DurationHours *int     `json:"duration_hours"`
}

// UpdatePollRequest 只允许修改标题；其余字段出现即拒绝
type UpdatePollRequest struct {
	Title         *string         `json:"title"`
	Options       json.RawMessage `json:"options"`
	DurationHours json.RawMessage `json:"duration_hours"`
	ExpiresAt     json.RawMessage `json:"expires_at"`
	DeleteAt      json.RawMessage `json:"delete_at"`
}

// VoteRequest 投票请求
type VoteRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	OptionID      uint   `json:"option_id" binding:"required"`
}

// PollListResponse 分页列表响应
type PollListResponse struct {
	Count   int           `json:"count"`
	Results []models.Poll `json:"results"`
}

// PollHandler 投票相关HTTP处理
type PollHandler struct {
	svc    service.PollService
	logger *zap.Logger
}

// NewPollHandler 创建投票处理器
func NewPollHandler(svc service.PollService, logger *zap.Logger) *PollHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollHandler{svc: svc, logger: logger}
}

func (h *PollHandler) pollID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "invalid poll id")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string) (int, bool, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	return v, true, err
}

// CreatePoll 创建新投票
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var req CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	input := service.CreatePollInput{
		Title:         req.Title,
		Options:       req.Options,
		DurationHours: DefaultDurationHours,
	}
	if req.DurationHours != nil {
		input.DurationHours = *req.DurationHours
	}

	poll, err := h.svc.CreatePoll(c.Request.Context(), input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// ListPolls 获取投票列表，进行中的投票排在前面。
// 传入 limit 时返回 {count, results} 分页结构，否则返回数组。
func (h *PollHandler) ListPolls(c *gin.Context) {
	limit, paged, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "limit must be an integer")
		return
	}
	offset, _, err := queryInt(c, "offset")
	if err != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "offset must be an integer")
		return
	}

	page, err := h.svc.ListPolls(c.Request.Context(), service.ListQuery{
		Search: c.Query("search"),
		Status: models.PollStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	polls := page.Polls
	if polls == nil {
		polls = []models.Poll{}
	}
	if paged {
		c.JSON(http.StatusOK, PollListResponse{Count: page.Count, Results: polls})
		return
	}
	c.JSON(http.StatusOK, polls)
}

// GetPoll 获取单个投票
func (h *PollHandler) GetPoll(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	poll, err := h.svc.GetPoll(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// UpdatePoll 修改投票标题
func (h *PollHandler) UpdatePoll(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	var req UpdatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	if req.Options != nil || req.DurationHours != nil || req.ExpiresAt != nil || req.DeleteAt != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "only the title of a poll can be changed")
		return
	}
	if req.Title == nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "title is required")
		return
	}

	poll, err := h.svc.UpdatePollTitle(c.Request.Context(), id, *req.Title)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// DeletePoll 删除投票及其选项和投票记录
func (h *PollHandler) DeletePoll(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	if err := h.svc.DeletePoll(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CastVote 提交投票，返回更新后的投票
func (h *PollHandler) CastVote(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, CodeValidation, "participant_id and option_id are required")
		return
	}

	poll, err := h.svc.CastVote(c.Request.Context(), id, req.ParticipantID, req.OptionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// Sweep 立即清理到期的投票
func (h *PollHandler) Sweep(c *gin.Context) {
	removed, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": removed})
}

// ListVotes 获取投票的全部投票记录
func (h *PollHandler) ListVotes(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	votes, err := h.svc.ListVotes(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if votes == nil {
		votes = []models.Vote{}
	}
	c.JSON(http.StatusOK, votes)
}

// AuditPoll 核对选项票数与投票记录
func (h *PollHandler) AuditPoll(c *gin.Context) {
	id, ok := h.pollID(c)
	if !ok {
		return
	}

	audit, err := h.svc.AuditPoll(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, audit)
}
