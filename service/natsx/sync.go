package natsx

import (
	"context"
	"time"
)

// Publisher 发布能力（NatsxProducer / NatsManager 都实现）
type Publisher interface {
	PublishOnce(ctx context.Context, biz string, data []byte, hdr map[string]string, msgID string) error
}

// NatsxSyncPublisher 同步发布器（带重试，重试沿用同一个 msgID 以便去重）
type NatsxSyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *NatsxSyncPublisher) Publish(ctx context.Context, biz string, payload []byte, hdr map[string]string) error {
	msgID := genMsgID()
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.P.PublishOnce(ctx, biz, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}
