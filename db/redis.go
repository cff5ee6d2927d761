// db/redis.go
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	logger "github.com/hdgokani/atlan-metastore-sub001/logging"
	"github.com/hdgokani/atlan-metastore-sub001/model"
)

var RedisClient *redis.Client

func InitRedis() error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:         viper.GetString("redis.addr"),
		Password:     viper.GetString("redis.password"),
		DB:           viper.GetInt("redis.db"),
		DialTimeout:  viper.GetDuration("redis.dialTimeout"),
		ReadTimeout:  viper.GetDuration("redis.readTimeout"),
		WriteTimeout: viper.GetDuration("redis.writeTimeout"),
		PoolSize:     viper.GetInt("redis.poolSize"),
		PoolTimeout:  viper.GetDuration("redis.poolTimeout"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := RedisClient.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Successfully connected to Redis")
	return nil
}

func CloseRedis() {
	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", zap.Error(err))
		}
	}
}

// PublishRefresh broadcasts a cache refresh request to every node subscribed
// to the invalidation channel, including this one.
func PublishRefresh(ctx context.Context, channel string, req model.RefreshRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	if err := RedisClient.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish refresh request: %w", err)
	}

	logger.Debug("Published cache refresh request", zap.String("channel", channel))
	return nil
}

// InvalidationSubscriber listens on the invalidation channel and hands each
// decoded refresh request to the handler. Malformed messages are logged and
// dropped so one bad publisher cannot wedge the subscription.
type InvalidationSubscriber struct {
	channel string
	handler func(model.RefreshRequest)
	pubsub  *redis.PubSub
	done    chan struct{}
}

func NewInvalidationSubscriber(channel string, handler func(model.RefreshRequest)) *InvalidationSubscriber {
	return &InvalidationSubscriber{
		channel: channel,
		handler: handler,
		done:    make(chan struct{}),
	}
}

func (s *InvalidationSubscriber) Start(ctx context.Context) {
	s.pubsub = RedisClient.Subscribe(ctx, s.channel)
	go s.listen(ctx)
	logger.Info("Subscribed to cache invalidation channel", zap.String("channel", s.channel))
}

func (s *InvalidationSubscriber) Stop() {
	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			logger.Error("Error closing invalidation subscription", zap.Error(err))
		}
	}
	<-s.done
}

func (s *InvalidationSubscriber) listen(ctx context.Context) {
	defer close(s.done)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var req model.RefreshRequest
			if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
				logger.Warn("Dropping malformed invalidation message",
					zap.String("channel", s.channel), zap.Error(err))
				continue
			}
			s.handler(req)
		}
	}
}
