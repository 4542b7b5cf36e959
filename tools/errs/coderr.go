package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// ===== 错误码 =====

const (
	ServerInternalError = 500

	ArgsError        = 1001 // 帧格式或参数错误
	ValidationError  = 1002 // 业务校验失败（如消息为空）
	PersistenceError = 1003 // 存储不可用或拒绝写入
	AuthError        = 1004 // 凭证缺失/无效/过期
	NotFoundError    = 1005
)

var (
	ErrInternal    = NewCodeError(ServerInternalError, "internal error")
	ErrArgs        = NewCodeError(ArgsError, "invalid frame")
	ErrValidation  = NewCodeError(ValidationError, "validation failed")
	ErrPersistence = NewCodeError(PersistenceError, "persistence failed")
	ErrAuth        = NewCodeError(AuthError, "authentication failed")
	ErrNotFound    = NewCodeError(NotFoundError, "record not found")
)

var DefaultCodeRelation = newCodeRelation()

func init() {
	// 参数错误属于校验失败的一种
	_ = DefaultCodeRelation.Add(ValidationError, ArgsError)
}

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Wrap 返回带调用栈的错误
func (e *CodeError) Wrap() error {
	return pkgerrors.WithStack(e.clone())
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	retErr := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if retErr.Detail == "" {
			retErr.Detail = detail
		} else {
			retErr.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(retErr)
}

// WrapCause 底层错误只进入 Error() 文本（日志），不进入 Detail（客户端可见）
func (e *CodeError) WrapCause(cause error, msg string, kv ...any) error {
	coded := e.WrapMsg(msg, kv...)
	if cause == nil {
		return coded
	}
	return pkgerrors.Wrap(coded, cause.Error())
}

// Is 按错误码匹配（含 DefaultCodeRelation 中登记的父子关系）
func (e *CodeError) Is(err error) bool {
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return err == nil && e == nil
	}
	if e == nil {
		return false
	}
	return DefaultCodeRelation.Is(e.Code, codeErr.Code)
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Message 给客户端看的文本：优先 Detail
func (e *CodeError) Message() string {
	if e.Detail != "" {
		return e.Msg + ": " + e.Detail
	}
	return e.Msg
}

// CodeOf 提取错误码，非 CodeError 一律视为内部错误
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return ServerInternalError
}

// Is 判断 err 是否属于 target 对应的错误码
func Is(err error, target CodeError) bool {
	if err == nil {
		return false
	}
	return target.Is(err)
}

// ClientMessage 返回可以安全回给客户端的描述
func ClientMessage(err error) string {
	var codeErr *CodeError
	if errors.As(err, &codeErr) && codeErr.Code != ServerInternalError {
		return codeErr.Message()
	}
	return ErrInternal.Msg
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}

type CodeRelation interface {
	Add(codes ...int) error
	Is(parent, child int) bool
}

func newCodeRelation() CodeRelation {
	return &codeRelation{m: make(map[int]map[int]struct{})}
}

type codeRelation struct {
	m map[int]map[int]struct{}
}

const minimumCodesLength = 2

func (r *codeRelation) Add(codes ...int) error {
	if len(codes) < minimumCodesLength {
		return pkgerrors.Errorf("codes length must be at least %d, got %v", minimumCodesLength, codes)
	}
	for i := 1; i < len(codes); i++ {
		parent := codes[i-1]
		s, ok := r.m[parent]
		if !ok {
			s = make(map[int]struct{})
			r.m[parent] = s
		}
		for _, code := range codes[i:] {
			s[code] = struct{}{}
		}
	}
	return nil
}

func (r *codeRelation) Is(parent, child int) bool {
	if parent == child {
		return true
	}
	s, ok := r.m[parent]
	if !ok {
		return false
	}
	_, ok = s[child]
	return ok
}
