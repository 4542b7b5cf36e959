package security

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名算法、密钥与TTL。
type Options struct {
	Secret    []byte         // HMAC 密钥（HS256/HS384/HS512）
	PublicKey *rsa.PublicKey // RS256 验签公钥（身份服务签发）
	Alg       string         // 默认 HS256
	TTL       time.Duration  // 令牌有效期（默认 2h，仅 Generate 使用）
	Leeway    time.Duration  // 校验 exp/nbf 时允许的时钟偏差
}

type JWTClaims struct {
	jwtlib.MapClaims
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour, Leeway: 5 * time.Second}
}

// RS256Options 从 PEM 公钥构造校验选项
func RS256Options(publicKeyPEM []byte) (Options, error) {
	key, err := jwtlib.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return Options{}, fmt.Errorf("parse rsa public key: %w", err)
	}
	return Options{PublicKey: key, Alg: "RS256", Leeway: 5 * time.Second}, nil
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate 签发 HMAC 令牌；extra 会并入 claims（name/username/picture 等）
func Generate(opts Options, userID string, extra map[string]any) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if _, ok := method.(*jwtlib.SigningMethodHMAC); !ok {
		return "", time.Time{}, fmt.Errorf("generate supports HMAC only, got %s", opts.Alg)
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		if _, reserved := claims[k]; !reserved {
			claims[k] = v
		}
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func Verify(opts Options, token string) (*JWTClaims, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 只接受配置的算法族，防止 alg 混淆
		switch method.(type) {
		case *jwtlib.SigningMethodHMAC:
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
			}
			if len(opts.Secret) == 0 {
				return nil, errors.New("hmac secret not configured")
			}
			return opts.Secret, nil
		case *jwtlib.SigningMethodRSA:
			if _, ok := t.Method.(*jwtlib.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
			}
			if opts.PublicKey == nil {
				return nil, errors.New("rsa public key not configured")
			}
			return opts.PublicKey, nil
		}
		return nil, fmt.Errorf("unsupported alg: %s", opts.Alg)
	}, jwtlib.WithLeeway(opts.Leeway), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("claims type mismatch")
	}
	return &JWTClaims{claims}, nil
}

// String 读取字符串 claim，不存在返回空串
func (c *JWTClaims) String(key string) string {
	if c == nil {
		return ""
	}
	v, ok := c.MapClaims[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	case "RS256":
		return jwtlib.SigningMethodRS256, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512/RS256)", alg)
	}
}
