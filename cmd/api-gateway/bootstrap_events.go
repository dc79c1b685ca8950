package main

import (
	"context"
	"time"

	config "github.com/NordCoder/Leadbook/internal/config/api-gateway"
	"github.com/NordCoder/Leadbook/internal/domain/outbox"
	"github.com/NordCoder/Leadbook/internal/obs/retry"
	outboxsvc "github.com/NordCoder/Leadbook/internal/outbox"
	kafkarepo "github.com/NordCoder/Leadbook/internal/repository/kafka"
	"go.uber.org/zap"
)

// initEventRelay prepares the session events topic and the outbox relay.
// It returns a nil runner when kafka is disabled; sessions then rotate
// without emitting events.
func initEventRelay(ctx context.Context, cfg *config.Config, repo outbox.Repository, logger *zap.Logger) (*outboxsvc.Runner, func(), error) {
	if !cfg.Kafka.Enable {
		logger.Info("kafka disabled, session events are not published")
		return nil, func() {}, nil
	}

	err := kafkarepo.EnsureTopic(ctx, cfg.Kafka.Brokers, kafkarepo.TopicSpec{
		Name:          cfg.Kafka.Topic,
		NumPartitions: cfg.Kafka.Partitions,
		MaxWait:       10 * time.Second,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	prod := kafkarepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithSource(cfg.App.Name).WithLogger(logger)
	dispatch := outboxsvc.MakeGlobalOutboxHandler(
		kafkarepo.NewSessionEventsKafka(prod),
		retry.DefaultPublishPolicy(logger),
	)
	runner := outboxsvc.NewOutboxRunner(logger, repo, dispatch, cfg.Outbox)
	closeProd := func() {
		if err := prod.Close(); err != nil {
			logger.Warn("kafka producer close", zap.Error(err))
		}
	}
	return runner, closeProd, nil
}
