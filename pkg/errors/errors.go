package errors

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// 业务错误码 (1000+)，前端据此展示具体提示
const (
	CodeAlreadyVoted      = 1001 // 已经投过票
	CodeNotEligible       = 1002 // 无投票资格
	CodeInvalidAllocation = 1003 // 分配份额之和不为100
	CodePollClosed        = 1004 // 投票已结束
	CodeTenantResolution  = 1005 // 无法解析租户
	CodeConfiguration     = 1006 // 系统配置缺失
)
