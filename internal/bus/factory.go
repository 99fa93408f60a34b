package bus

import (
	"fmt"
	"strings"

	"github.com/geosuggest/geosuggest/internal/config"
	"github.com/geosuggest/geosuggest/internal/pkg/errors"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
)

// DefaultConsumerGroup is the Kafka consumer group used by the server.
const DefaultConsumerGroup = "geosuggest"

// NewBus creates a new Bus instance based on the configuration.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: DefaultConsumerGroup,
			TopicPrefix:   cfg.TopicPrefix,
		}, log)

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}
