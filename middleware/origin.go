package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// Origin 只校验 GET /ws 的握手来源。
// allowed 为空或包含 "*" 时放行所有；没有 Origin 头的（非浏览器客户端）也放行。
func Origin(path string, allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if allowAll || c.Request.Method != http.MethodGet || c.Request.URL.Path != path {
			c.Next()
			return
		}
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			if _, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]; ok {
				c.Next()
				return
			}
		}
		e := errs.ErrAuth.WithDetail("origin not allowed")
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": e.Code, "message": e.Message()})
	}
}
