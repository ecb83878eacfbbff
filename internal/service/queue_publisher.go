// Package service holds adapters between the booking core and outside
// systems.  The queue publisher announces committed bookings on RabbitMQ.
// Errors are logged and returned so the caller can ignore failures without
// interrupting the main request flow.
package service

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    "github.com/iliyamo/cinema-booking-engine/internal/model"
    q "github.com/iliyamo/cinema-booking-engine/internal/queue"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
    QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
    PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
    Close() error
}

// dialFunc opens a channel and returns a closer for its connection.
type dialFunc func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
    conn, err := amqp.Dial(url)
    if err != nil {
        return nil, nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, nil, err
    }
    return ch, conn.Close, nil
}

// QueuePublisher keeps one connection open and reopens it after a failed
// publish.
type QueuePublisher struct {
    url  string
    log  *zap.Logger
    dial dialFunc

    mu        sync.Mutex
    ch        channel
    closeConn func() error
}

// NewQueuePublisher returns a publisher for the broker at url.  The
// connection is opened on first use.
func NewQueuePublisher(url string, log *zap.Logger) *QueuePublisher {
    if log == nil {
        log = zap.NewNop()
    }
    return &QueuePublisher{url: url, log: log.Named("publisher"), dial: dialAMQP}
}

// PublishBookingConfirmed publishes a BookingConfirmedEvent to the
// "booking.confirmed" queue.  Messages are marked as persistent.
func (p *QueuePublisher) PublishBookingConfirmed(ctx context.Context, b *model.Booking) error {
    body, err := json.Marshal(q.NewBookingConfirmedEvent(b))
    if err != nil {
        p.log.Error("marshal event failed", zap.Error(err))
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch == nil {
        if err := p.open(); err != nil {
            p.log.Warn("broker unavailable", zap.Error(err))
            return err
        }
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        MessageId:    b.Reference,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := p.ch.PublishWithContext(ctx,
        "",                      // default exchange
        q.BookingConfirmedQueue, // routing key = queue name
        false,                   // mandatory
        false,                   // immediate
        pub,
    ); err != nil {
        p.log.Warn("publish failed", zap.String("reference", b.Reference), zap.Error(err))
        p.reset()
        return err
    }
    return nil
}

// open dials and declares the queue.  The caller must hold p.mu.
func (p *QueuePublisher) open() error {
    ch, closeConn, err := p.dial(p.url)
    if err != nil {
        return err
    }
    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(q.BookingConfirmedQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = closeConn()
        return err
    }
    p.ch, p.closeConn = ch, closeConn
    return nil
}

// reset drops the current connection.  The caller must hold p.mu.
func (p *QueuePublisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        _ = p.closeConn()
    }
    p.ch, p.closeConn = nil, nil
}

// Close releases the broker connection.
func (p *QueuePublisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
