package handlers

import (
	"polity/internal/services"
	"polity/pkg/response"

	"github.com/gin-gonic/gin"
)

// SchedulerHandler 投票调度器的状态与手动触发（平台管理员）
type SchedulerHandler struct{}

func NewSchedulerHandler() *SchedulerHandler {
	return &SchedulerHandler{}
}

func (h *SchedulerHandler) scheduler(c *gin.Context) *services.PollScheduler {
	scheduler := services.GetPollScheduler()
	if scheduler == nil {
		response.Unavailable(c, "调度器未启用")
	}
	return scheduler
}

// Status 调度器状态
func (h *SchedulerHandler) Status(c *gin.Context) {
	scheduler := h.scheduler(c)
	if scheduler == nil {
		return
	}
	response.Success(c, scheduler.GetStatus())
}

// Sweep 立即执行一次投票结束检查
func (h *SchedulerHandler) Sweep(c *gin.Context) {
	scheduler := h.scheduler(c)
	if scheduler == nil {
		return
	}
	response.Success(c, scheduler.SweepOnce(c.Request.Context()))
}

// StartAuthorityPolls 立即为到期租户发起权威投票
func (h *SchedulerHandler) StartAuthorityPolls(c *gin.Context) {
	scheduler := h.scheduler(c)
	if scheduler == nil {
		return
	}
	response.Success(c, scheduler.StartAuthorityPollsOnce(c.Request.Context()))
}
