package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// MaxDeliveryAttempts bounds redelivery of one payload before it is dropped
// as a terminal failure.
const MaxDeliveryAttempts = 10

// backoffSchedule spaces redelivery attempts; the last interval repeats for
// any attempts beyond its length.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second,
	20 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second,
}

// DeliverFunc attempts one delivery of a payload to the external archive.
type DeliverFunc func(ctx context.Context, payload []byte) error

// FailedFunc is invoked once when a payload exhausts its attempts.
type FailedFunc func(payload []byte, attempts int, lastErr error)

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeArchive starts delivering queued payloads to the archive.
// Failed deliveries are redelivered on the backoff schedule until
// MaxDeliveryAttempts, then surrendered to onFailed and acked away.
func (c *Consumer) ConsumeArchive(ctx context.Context, consumerName string, deliver DeliverFunc, onFailed FailedFunc, workerCount int) error {
	stream, err := c.js.Stream(ctx, ArchiveStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", ArchiveStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       5 * time.Minute,
		MaxDeliver:    MaxDeliveryAttempts,
		FilterSubject: ArchiveSubjectBase + ".>",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan jetstream.Msg, workerCount*2)

	// Fetch loop
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(msgCh)
				return
			default:
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					close(msgCh)
					return
				}
				slog.Warn("fetch archive payloads error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					close(msgCh)
					return
				}
			}
		}
	}()

	// Delivery workers
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			for msg := range msgCh {
				c.handleMsg(ctx, workerID, msg, deliver, onFailed)
			}
		}(i)
	}

	slog.Info("archive consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

func (c *Consumer) handleMsg(ctx context.Context, workerID int, msg jetstream.Msg, deliver DeliverFunc, onFailed FailedFunc) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	err := deliver(ctx, msg.Data())
	if err == nil {
		_ = msg.Ack()
		return
	}

	if attempt >= MaxDeliveryAttempts {
		slog.Error("archive delivery failed permanently", "worker", workerID, "attempts", attempt, "error", err)
		if onFailed != nil {
			onFailed(msg.Data(), attempt, err)
		}
		_ = msg.Ack()
		return
	}

	delay := backoffSchedule[len(backoffSchedule)-1]
	if attempt-1 < len(backoffSchedule) {
		delay = backoffSchedule[attempt-1]
	}
	slog.Warn("archive delivery failed, will retry", "worker", workerID, "attempt", attempt, "delay", delay.String(), "error", err)
	_ = msg.NakWithDelay(delay)
}

func (c *Consumer) Close() {
	c.nc.Close()
}
