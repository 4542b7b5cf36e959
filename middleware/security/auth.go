package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
)

// ===== context key =====
const PPCtxInternalKey = "internalCaller" // bool

const DefaultHeader = "X-Internal-Secret"

type Options struct {
	// 读取哪个请求头
	Header string // 默认 "X-Internal-Secret"
	// 共享密钥；为空时所有请求都被拒绝（钩子相当于关闭）
	Secret                    string
	EnableAuthorizationBearer bool // 默认 true
}

func DefaultOptions(secret string) *Options {
	return &Options{
		Header:                    DefaultHeader,
		Secret:                    secret,
		EnableAuthorizationBearer: true,
	}
}

// Middleware 内部接口的共享密钥校验，失败返回 401 + 错误码
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions("")
	}
	header := opts.Header
	if header == "" {
		header = DefaultHeader
	}
	want := []byte(opts.Secret)

	return func(c *gin.Context) {
		got := strings.TrimSpace(c.GetHeader(header))

		// 兼容 Authorization: Bearer xxx
		if got == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					got = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if len(want) == 0 || got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			e := errs.ErrAuth.WithDetail("invalid internal secret")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": e.Code, "message": e.Message()})
			return
		}
		c.Set(PPCtxInternalKey, true)
		c.Next()
	}
}
