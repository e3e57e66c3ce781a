package errs

import "net/http"

// 应用错误码（对外同时映射 HTTP 状态）
const (
	ArgsError           = 1001 // 参数缺失/非法
	UnauthenticatedErr  = 1101
	NoPermissionError   = 1103
	RecordNotFoundError = 1104
	UpstreamError       = 1201 // 对象存储/传输等上游故障
	InternalError       = 1500
)

var (
	ErrArgs            = NewCodeError(ArgsError, "args invalid")
	ErrUnauthenticated = NewCodeError(UnauthenticatedErr, "unauthenticated")
	ErrNoPermission    = NewCodeError(NoPermissionError, "no permission")
	ErrRecordNotFound  = NewCodeError(RecordNotFoundError, "record not found")
	ErrUpstream        = NewCodeError(UpstreamError, "upstream unavailable")
	ErrInternal        = NewCodeError(InternalError, "server internal error")
)

// HTTPStatus maps an application code to the wire status. Unknown codes
// fall back to 500; upstream details are never leaked verbatim.
func HTTPStatus(code int) int {
	switch code {
	case ArgsError:
		return http.StatusBadRequest
	case UnauthenticatedErr:
		return http.StatusUnauthorized
	case NoPermissionError:
		return http.StatusForbidden
	case RecordNotFoundError:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
