package natsx

import (
	"context"
	"time"

	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、恢复、幂等等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件，mws[0] 在最外层
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecoverMiddleware handler panic 转成错误（JS 模式下会 Nak 重投）
func NatsxRecoverMiddleware() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errs.ErrPanic(r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// NatsxLogMiddleware 失败记 warn，成功记 debug
func NatsxLogMiddleware(log *zap.Logger) NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			fields := []zap.Field{
				zap.String("subject", msg.Subject),
				zap.Int("size", len(msg.Data)),
				zap.Duration("cost", time.Since(start)),
			}
			if err != nil {
				log.Warn("nats message failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("nats message handled", fields...)
			}
			return err
		}
	}
}
