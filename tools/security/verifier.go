package security

import (
	"context"
	"strings"

	"PPRelay/module/chat/model"
	"PPRelay/tools/errs"
)

// Verifier 把 bearer 令牌换成用户身份
type Verifier struct {
	opts Options
}

func NewVerifier(opts Options) *Verifier {
	return &Verifier{opts: opts}
}

// Verify 校验签名与有效期，并从 claims 中提取展示字段。
// 失败一律返回 errs.ErrAuth，不区分原因。
func (v *Verifier) Verify(_ context.Context, token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, errs.ErrAuth.WrapMsg("missing credential")
	}
	claims, err := Verify(v.opts, token)
	if err != nil {
		return model.Identity{}, errs.ErrAuth.WrapMsg(err.Error())
	}
	id := IdentityFromClaims(claims)
	if id.ID == "" {
		return model.Identity{}, errs.ErrAuth.WrapMsg("subject claim missing")
	}
	return id, nil
}

// IdentityFromClaims 兼容常见身份服务的 claim 命名
func IdentityFromClaims(c *JWTClaims) model.Identity {
	id := model.Identity{
		ID:        c.String("sub"),
		Username:  firstNonEmpty(c.String("username"), c.String("preferred_username")),
		AvatarURL: firstNonEmpty(c.String("image_url"), c.String("picture")),
	}
	id.DisplayName = c.String("name")
	if id.DisplayName == "" {
		id.DisplayName = strings.TrimSpace(c.String("given_name") + " " + c.String("family_name"))
	}
	if id.DisplayName == "" {
		id.DisplayName = id.Username
	}
	return id
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
