package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "CRMProject/middleware/security"
)

// RouteOpt 配置选项
type RouteOpt struct {
	IsAuth bool
}

type Router struct {
	Auth midsec.Resolver
	Opts *midsec.Options
}

func NewRouter(auth midsec.Resolver, opts *midsec.Options) *Router {
	if opts == nil {
		opts = midsec.DefaultOptions()
	}
	return &Router{Auth: auth, Opts: opts}
}

// 封装 GET
func (rt *Router) GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(rt.Auth, rt.Opts), handler)
	} else {
		r.GET(path, handler)
	}
}

// 封装 POST
func (rt *Router) POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(rt.Auth, rt.Opts), handler)
	} else {
		r.POST(path, handler)
	}
}

// 封装 PUT
func (rt *Router) PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.PUT(path, midsec.Middleware(rt.Auth, rt.Opts), handler)
	} else {
		r.PUT(path, handler)
	}
}
