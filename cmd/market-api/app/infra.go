package app

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/farmlink/market-api/configs"
	"github.com/farmlink/market-api/internal/adapter/cache"
	"github.com/farmlink/market-api/internal/adapter/kafka"
	"github.com/farmlink/market-api/internal/adapter/queue"
	"github.com/farmlink/market-api/internal/usecase"
)

type redisBundle struct {
	rdb   *redis.Client
	idem  *cache.RedisIdempotencyStore
	cache *cache.RedisOrderCache
}

func initRedis(ctx context.Context, cfg configs.Config) (*redisBundle, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBundle{
		rdb:   rdb,
		idem:  cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL),
		cache: cache.NewRedisOrderCache(rdb, cfg.Cache.TTL),
	}, nil
}

func (b *redisBundle) ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *redisBundle) close() { _ = b.rdb.Close() }

type rabbitBundle struct {
	conn     *amqp.Connection
	notifier *queue.RabbitNotifier
	router   *queue.Router
}

// initRabbit publishes on a confirm-mode channel and consumes on its own channel.
func initRabbit(cfg configs.Config, inbox *usecase.Inbox) (*rabbitBundle, error) {
	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	notifier, err := queue.NewRabbitNotifier(pubCh, cfg.Rabbit.Exchange, cfg.Rabbit.Queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	subCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	prefetch := cfg.Rabbit.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	router := queue.NewRouter(subCh, queue.WithPrefetch(prefetch), queue.WithPermanent(usecase.ErrValidation))
	q := cfg.Rabbit.Queue
	if q == "" {
		q = queue.DefaultQueue
	}
	router.Register(q, queue.JSONHandler[usecase.NotificationMsg]{HandleFunc: inbox.Deliver})

	return &rabbitBundle{conn: conn, notifier: notifier, router: router}, nil
}

func (b *rabbitBundle) start(ctx context.Context) error {
	if err := b.router.Start(ctx); err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *rabbitBundle) close() { _ = b.conn.Close() }

type kafkaBundle struct {
	orderEvents   *kafka.OrderEventProducer
	paymentEvents *kafka.PaymentEventPublisher
	group         sarama.ConsumerGroup
	topic         string
}

func initKafka(cfg configs.Config) (*kafkaBundle, error) {
	async, err := sarama.NewAsyncProducer(cfg.Kafka.Brokers, kafka.ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka async producer: %w", err)
	}
	syncProd, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafka.ProducerConfig())
	if err != nil {
		_ = async.Close()
		return nil, fmt.Errorf("kafka sync producer: %w", err)
	}
	group, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
	if err != nil {
		_ = async.Close()
		_ = syncProd.Close()
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return &kafkaBundle{
		orderEvents:   kafka.NewOrderEventProducer(async, cfg.Kafka.TopicOrderEvents),
		paymentEvents: kafka.NewPaymentEventPublisher(syncProd, cfg.Kafka.TopicPaymentEvents),
		group:         group,
		topic:         cfg.Kafka.TopicPaymentEvents,
	}, nil
}

func (b *kafkaBundle) consumer(handle kafka.HandlerFunc) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return kafka.NewConsumer(b.group, []string{b.topic}, handle).Start(ctx)
	}
}

func (b *kafkaBundle) close() {
	_ = b.group.Close()
	_ = b.orderEvents.Close()
	_ = b.paymentEvents.Close()
}
