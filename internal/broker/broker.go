// Package broker wraps RabbitMQ for reliable, decoupled message passing
// between the watcher and the orchestrator.
//
// The watcher (and the store's inventory sweep) publish FileEvents to a
// durable, named queue. The orchestrator consumes from the same queue.
//
// Durability guarantees:
//   - The queue is declared durable — survives broker restarts.
//   - Messages are marked Persistent — written to disk before ack.
//   - The consumer uses manual ack — a message is only removed from the
//     queue after the orchestrator has run the full pipeline for it.
//   - A publish that loses its stream is retried once after a fresh
//     dial-and-declare, for at most two attempts total.
package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/yinguobing/dwarf/internal/metrics"
)

// Publisher owns the AMQP connection for the producing side (watcher,
// inventory sweep). Only the publisher role is active per instance.
type Publisher struct {
	url     string
	queue   string
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials RabbitMQ and declares the shared durable queue.
func NewPublisher(url, queue string) (*Publisher, error) {
	p := &Publisher{url: url, queue: queue}
	if err := p.dial(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) dial() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}

	if _, err := declareQueue(ch, p.queue); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	p.conn = conn
	p.channel = ch
	return nil
}

// Publish sends body as a persistent message. On a lost stream it
// re-establishes the connection and retries the same publish once more
// before reporting failure — at most two attempts total.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.publishOnce(ctx, body)
	if err == nil {
		return nil
	}

	metrics.BrokerPublishRetries.Inc()

	p.teardown()
	if dialErr := p.dial(); dialErr != nil {
		return fmt.Errorf("broker: reconnect after publish failure: %w (original: %v)", dialErr, err)
	}

	return p.publishOnce(ctx, body)
}

func (p *Publisher) publishOnce(ctx context.Context, body []byte) error {
	return p.channel.PublishWithContext(ctx,
		"",      // default exchange — routes directly to named queue
		p.queue, // routing key == queue name for default exchange
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent, // survive broker restart
			Body:         body,
		},
	)
}

func (p *Publisher) teardown() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Close releases the AMQP channel and connection.
func (p *Publisher) Close() {
	p.teardown()
}

// Consumer owns the AMQP connection for the consuming side (orchestrator).
// Only the consumer role is active per instance.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

// NewConsumer dials RabbitMQ and sets QoS to process one message at a
// time — this is what makes the per-file pipeline effectively serial.
func NewConsumer(url, queue string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	q, err := declareQueue(ch, queue)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, channel: ch, queue: q}, nil
}

// Acknowledger is the ack/nack surface of amqp.Delivery. It is satisfied
// directly by amqp.Delivery; tests that drive the orchestrator pipeline
// without a live broker connection supply their own implementation via
// NewDelivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Delivery wraps an Acknowledger, exposing the decoded path and ack helpers.
type Delivery struct {
	Path string
	raw  Acknowledger
}

// NewDelivery constructs a Delivery directly from a path and an
// Acknowledger, for tests.
func NewDelivery(path string, raw Acknowledger) Delivery {
	return Delivery{Path: path, raw: raw}
}

// Ack removes the message from the queue after successful processing.
func (d *Delivery) Ack() error { return d.raw.Ack(false) }

// Nack requeues the message so it (or a restarted consumer) can retry it.
func (d *Delivery) Nack() error { return d.raw.Nack(false, true) }

// Consume returns a channel of Delivery values. Each value must be Ack'd
// or Nack'd by the caller.
func (c *Consumer) Consume() (<-chan Delivery, error) {
	rawMsgs, err := c.channel.Consume(
		c.queue.Name,
		"",    // consumer tag — auto-generated
		false, // auto-ack disabled — ack manually after the pipeline completes
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("broker: consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range rawMsgs {
			out <- Delivery{Path: string(d.Body), raw: d}
		}
	}()

	return out, nil
}

// Close releases the AMQP channel and connection.
func (c *Consumer) Close() {
	c.channel.Close()
	c.conn.Close()
}

// declareQueue is shared between Publisher and Consumer so both sides
// always declare the same durable queue (idempotent — safe to repeat).
func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,  // durable — survives broker restart
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("broker: declare queue %q: %w", name, err)
	}
	return q, nil
}
