package response

import (
	"net/http"

	"polity/pkg/errors"
	"polity/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// Response 统一返回格式。业务错误同样以 HTTP 200 返回，由 Code 区分
type Response struct {
	Code     int                  `json:"code"`
	Message  string               `json:"message"`
	Data     interface{}          `json:"data,omitempty"`
	PageInfo *pagination.PageInfo `json:"page_info,omitempty"`
}

func write(c *gin.Context, resp Response) {
	c.JSON(http.StatusOK, resp)
}

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	Message(c, "success", data)
}

// Message 成功返回，附带面向用户的提示（撤回选票、停用租户、投票未到结束条件等）
func Message(c *gin.Context, message string, data interface{}) {
	write(c, Response{Code: errors.CodeSuccess, Message: message, Data: data})
}

// Paged 列表分页返回
func Paged(c *gin.Context, data interface{}, page *pagination.PageInfo) {
	write(c, Response{Code: errors.CodeSuccess, Message: "success", Data: data, PageInfo: page})
}

// Error 业务错误返回，code 取自 pkg/errors
func Error(c *gin.Context, code int, message string) {
	write(c, Response{Code: code, Message: message})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, errors.CodeInvalidParam, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, errors.CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, errors.CodeForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, errors.CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, errors.CodeConflict, message)
}

// Unavailable 可选组件（调度器、实时通知）未启用
func Unavailable(c *gin.Context, message string) {
	Error(c, errors.CodeUnavailable, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, errors.CodeServerError, message)
}
