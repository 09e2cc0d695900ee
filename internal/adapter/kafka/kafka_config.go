package kafka

import (
	"time"

	"github.com/IBM/sarama"
)

const clientID = "market-api"

func baseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_6_0_0
	cfg.Net.DialTimeout = 5 * time.Second
	return cfg
}

func NewGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	cfg := baseConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return sarama.NewConsumerGroup(brokers, groupID, cfg)
}

// ProducerConfig waits for all in-sync replicas and reports successes,
// which the sync producer requires.
func ProducerConfig() *sarama.Config {
	cfg := baseConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}
