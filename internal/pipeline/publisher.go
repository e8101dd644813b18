package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
	"github.com/pharosdata/harvester/internal/metrics"
	"github.com/pharosdata/harvester/internal/spill"
)

// Publisher hands raw records to the broker and falls back to the local
// spill directory when the broker is unavailable. A record is lost only
// if both paths fail.
type Publisher struct {
	broker harvest.Broker
	topic  string
	spill  *spill.Store
	logger *zap.Logger
}

// NewPublisher creates a Publisher for one topic.
func NewPublisher(broker harvest.Broker, topic string, spillStore *spill.Store, logger *zap.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		topic:  topic,
		spill:  spillStore,
		logger: logger,
	}
}

// Publish serializes record and sends it to the broker. On broker
// failure the record is spilled locally and Publish still succeeds.
func (p *Publisher) Publish(ctx context.Context, record harvest.RawRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.RecordID, err)
	}

	_, pubErr := p.broker.Publish(ctx, p.topic, payload)
	if pubErr == nil {
		return nil
	}
	p.logger.Warn("broker publish failed, spilling record",
		zap.String("record_id", record.RecordID),
		zap.String("topic", p.topic),
		zap.Error(pubErr),
	)

	if err := p.spill.Write(record); err != nil {
		return fmt.Errorf("spill record %s after broker failure: %w", record.RecordID, err)
	}
	metrics.ObserveSpillWrite()
	return nil
}
