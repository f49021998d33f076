package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue publishes jobs to durable RabbitMQ queues named after the topic.
// Failed jobs are re-published with Attempt+1 until MaxRetries, then dropped.
type AMQPQueue struct {
	MaxRetries int

	conn     *amqp.Connection
	pubCh    *amqp.Channel
	pubMu    sync.Mutex
	declared map[string]bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func DialAMQP(url string, logger *zap.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &AMQPQueue{
		MaxRetries: DefaultMaxRetries,
		conn:       conn,
		pubCh:      ch,
		declared:   make(map[string]bool),
		logger:     logger.With(zap.String("component", "amqp_queue")),
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return nil
}

func (q *AMQPQueue) Publish(_ context.Context, topic string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if !q.declared[topic] {
		if err := declare(q.pubCh, topic); err != nil {
			return err
		}
		q.declared[topic] = true
	}

	err = q.pubCh.Publish(
		"",    // exchange
		topic, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	return nil
}

// Subscribe consumes topic on its own channel until ctx is done or the
// connection drops.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := declare(ch, topic); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer ch.Close() //nolint:errcheck

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					q.logger.Warn("delivery channel closed", zap.String("topic", topic))
					return
				}
				q.deliver(ctx, topic, d, handler)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) deliver(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	job, err := decodeJob(d.Body)
	if err != nil {
		q.logger.Error("invalid job, dropping", zap.Error(err))
		_ = d.Ack(false)
		return
	}

	if err := handler(ctx, job); err != nil {
		if job.Attempt < q.MaxRetries {
			job.Attempt++
			if pubErr := q.Publish(ctx, topic, job); pubErr == nil {
				q.logger.Warn("job failed, re-published",
					zap.String("job_id", job.ID),
					zap.Int64("campaign_id", job.CampaignID),
					zap.Int("attempt", job.Attempt),
					zap.Error(err))
				_ = d.Ack(false)
				return
			}
			_ = d.Nack(false, true)
			return
		}

		q.logger.Error("job permanently failed",
			zap.String("job_id", job.ID),
			zap.Int64("campaign_id", job.CampaignID),
			zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.CampaignID <= 0 {
		return Job{}, fmt.Errorf("job %q has no campaign id", job.ID)
	}
	return job, nil
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	_ = q.pubCh.Close()
	q.pubMu.Unlock()

	err := q.conn.Close()
	q.wg.Wait()
	return err
}

var _ Queue = (*AMQPQueue)(nil)
