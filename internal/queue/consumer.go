package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "strings"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// Consumer listens to the booking.confirmed queue and appends one line per
// booking to a sink (logs/booking.log in production).
type Consumer struct {
    url  string
    log  *zap.Logger
    mu   sync.Mutex
    sink io.Writer
}

// NewConsumer returns a consumer for the broker at url writing to sink.
func NewConsumer(url string, sink io.Writer, log *zap.Logger) *Consumer {
    if log == nil {
        log = zap.NewNop()
    }
    return &Consumer{url: url, sink: sink, log: log.Named("booking-consumer")}
}

// Run connects, declares the queue and consumes until ctx is done.  Broker
// failures are retried with exponential backoff; only ctx ends the loop.
func (c *Consumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("dial broker failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(BookingConfirmedQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, BookingConfirmedQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handleMessage(d.Body); err != nil {
                c.log.Error("handle message failed", zap.Error(err))
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *Consumer) handleMessage(body []byte) error {
    var ev BookingConfirmedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Reference == "" {
        return errors.New("event without reference")
    }
    snacks := make([]string, 0, len(ev.Snacks))
    for _, s := range ev.Snacks {
        snacks = append(snacks, fmt.Sprintf("%s x%d", s.Name, s.Quantity))
    }
    line := fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | reference=%s | user_id=%d | schedule_id=%d | total=%d cents | seats=[%s] | snacks=[%s]\n",
        ev.ConfirmedAt, ev.BookingID, ev.Reference, ev.UserID, ev.ScheduleID, ev.TotalAmountCents,
        strings.Join(ev.SeatLabels, ","), strings.Join(snacks, ","))

    c.mu.Lock()
    defer c.mu.Unlock()
    if _, err := io.WriteString(c.sink, line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    c.log.Info("booking confirmed", zap.String("reference", ev.Reference), zap.Uint64("schedule_id", ev.ScheduleID))
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
