package worker

import (
	"context"

	"auction-service/internal/broker"
	"auction-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RelayWorker consumes the shared broadcast topic and re-broadcasts
// events originated by other instances, keeping every instance's
// connected viewers in sync.
type RelayWorker struct {
	consumer    *broker.Consumer
	broadcaster *broker.Broadcaster
	logger      *zap.Logger
}

// NewRelayWorker creates the cross-process broadcast relay
func NewRelayWorker(consumer *broker.Consumer, broadcaster *broker.Broadcaster) *RelayWorker {
	return &RelayWorker{
		consumer:    consumer,
		broadcaster: broadcaster,
		logger:      util.GetLogger(),
	}
}

// Start consumes until the context is cancelled
func (w *RelayWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting broadcast relay")
	return w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		return w.broadcaster.HandleRelayMessage(ctx, msg.Value)
	})
}

// Stop closes the underlying consumer
func (w *RelayWorker) Stop() error {
	w.logger.Info("Stopping broadcast relay")
	return w.consumer.Close()
}
