package middleware

import (
	midsec "PPRelay/middleware/security"

	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项；Auth 非空时先走共享密钥校验
type RouteOpt struct {
	Auth *midsec.Options
}

func chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.Auth != nil {
		return []gin.HandlerFunc{midsec.Middleware(opt.Auth), handler}
	}
	return []gin.HandlerFunc{handler}
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.POST(path, chain(handler, opt)...)
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, chain(handler, opt)...)
}
