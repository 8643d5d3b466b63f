// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 角色与对话
	ErrorCharacterNotFound    = "CHARACTER_NOT_FOUND"
	ErrorConversationConflict = "CONVERSATION_CONFLICT"

	// 世界
	ErrorLocationNotFound    = "LOCATION_NOT_FOUND"
	ErrorLocationUnreachable = "LOCATION_UNREACHABLE"
	ErrorItemNotFound        = "ITEM_NOT_FOUND"

	// 存档
	ErrorSaveFailed  = "SAVE_FAILED"
	ErrorResetFailed = "RESET_FAILED"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorAPIKeyMissing         = "API_KEY_MISSING"
)
