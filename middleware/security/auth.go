package security

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	usermodel "CRMProject/module/user/model"
	"CRMProject/tools/errs"
)

// —— context key ——
// 后续模块统一用这个 key 读取调用方身份
const CtxPrincipalKey = "principal"

// Resolver 把 bearer 令牌换成调用方身份（由 user/service.AuthService 实现）。
type Resolver interface {
	Resolve(ctx context.Context, token string) (*usermodel.Principal, error)
}

type Options struct {
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	AllowQueryToken           bool   // WebSocket 握手用 ?token=
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
		AllowQueryToken:           false,
	}
}

// Middleware 解析并校验 bearer 身份；失败 401 终止。
func Middleware(r Resolver, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := TokenFrom(c, opts)
		if token == "" {
			abortUnauthenticated(c, "missing credential")
			return
		}
		p, err := r.Resolve(c.Request.Context(), token)
		if err != nil {
			abortUnauthenticated(c, "invalid credential")
			return
		}
		c.Set(CtxPrincipalKey, p)
		c.Next()
	}
}

func abortUnauthenticated(c *gin.Context, detail string) {
	e := errs.ErrUnauthenticated.WithDetail(detail)
	c.AbortWithStatusJSON(errs.HTTPStatus(e.Code), e)
}

// TokenFrom extracts the bearer credential from a request.
func TokenFrom(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

	// 兼容 Authorization: Bearer xxx
	if token == "" && opts.EnableAuthorizationBearer {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
			if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				token = strings.TrimSpace(authz[len("bearer "):])
			}
		}
	}
	if token == "" && opts.AllowQueryToken {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token
}

// PrincipalFrom reads the identity the middleware stored on the context.
func PrincipalFrom(c *gin.Context) *usermodel.Principal {
	v, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*usermodel.Principal)
	return p
}
