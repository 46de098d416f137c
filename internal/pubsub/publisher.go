package pubsub

import (
	"context"
	"encoding/json"

	"candlescan/internal/metrics"
	"candlescan/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher mirrors pipeline events onto Redis pub/sub channels for
// out-of-process consumers. A nil client turns every publish into a
// no-op, so deployments without Redis skip the mirror entirely.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishFK publishes a full-candle event.
func (p *Publisher) PublishFK(ctx context.Context, event models.FKEvent) error {
	channel := "candlescan:fk:" + event.Symbol + ":" + event.TimeFrame
	return p.publish(ctx, channel, "fk", event)
}

// PublishIK publishes an in-progress-candle event.
func (p *Publisher) PublishIK(ctx context.Context, event models.IKEvent) error {
	channel := "candlescan:ik:" + event.Symbol + ":" + event.TimeFrame
	return p.publish(ctx, channel, "ik", event)
}

// PublishBuildResult publishes one kline build result.
func (p *Publisher) PublishBuildResult(ctx context.Context, result models.KlinesBuildResult) error {
	channel := "candlescan:build:" + result.Symbol
	return p.publish(ctx, channel, "build", result)
}

// PublishScannedSymbols publishes a round's newly onboarded symbols.
func (p *Publisher) PublishScannedSymbols(ctx context.Context, symbols []models.ExchangeSymbol) error {
	return p.publish(ctx, "candlescan:symbols", "symbols", symbols)
}

func (p *Publisher) publish(ctx context.Context, channel, channelType string, payload any) error {
	if p.client == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(channelType).Inc()
		return err
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues(channelType).Inc()
		p.logger.WithError(err).Warnf("Failed to publish on %s", channel)
		return err
	}
	return nil
}
