package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quibly/internal/domain"
)

// Feed carries change notifications between client processes over redis
// pub/sub, one channel per session row. Delivery is fire-and-forget;
// subscribers self-heal through their poll cycle.
type Feed struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewFeed(client *redis.Client, log zerolog.Logger) *Feed {
	return &Feed{client: client, log: log}
}

func (f *Feed) channel(sessionID string) string {
	return "session:" + sessionID + ":changes"
}

func (f *Feed) Publish(ctx context.Context, event domain.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel(event.SessionID), data).Err()
}

// Subscribe opens a push channel for one session. The cancel func is
// idempotent; malformed or invalid payloads are dropped at this boundary
// rather than handed to the reconciler.
func (f *Feed) Subscribe(ctx context.Context, sessionID string) (<-chan domain.ChangeEvent, func(), error) {
	sub := f.client.Subscribe(ctx, f.channel(sessionID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan domain.ChangeEvent, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		messages := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event domain.ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					f.log.Debug().Err(err).Str("session", sessionID).Msg("dropping undecodable change event")
					continue
				}
				if !event.Valid() {
					f.log.Debug().Str("session", sessionID).Msg("dropping malformed change event")
					continue
				}
				select {
				case out <- event:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}
