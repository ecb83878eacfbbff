package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

// Seat values stored in the per-schedule hash:
//   H|<handle id>|<expires unix ms>  provisional hold
//   R|<booking reference>            committed seat
//
// Each script touches a single schedule's keys, and Redis runs scripts one
// at a time, so the check and the claim of a reservation cannot interleave
// with another reservation for the same schedule.

var reserveScript = redis.NewScript(`
    if redis.call('EXISTS', KEYS[2]) == 0 then
        return {-1}
    end
    local now = tonumber(ARGV[1])
    local taken = {0}
    for i = 3, #ARGV do
        local v = redis.call('HGET', KEYS[1], ARGV[i])
        if v then
            local live = true
            if string.sub(v, 1, 1) == 'H' then
                local exp = tonumber(string.match(v, '|(%d+)$'))
                if exp ~= nil and exp <= now then
                    live = false
                end
            end
            if live then
                table.insert(taken, ARGV[i])
            end
        end
    end
    if #taken > 1 then
        return taken
    end
    for i = 3, #ARGV do
        redis.call('HSET', KEYS[1], ARGV[i], ARGV[2])
    end
    return {1}
`)

var seedScript = redis.NewScript(`
    if redis.call('SET', KEYS[2], '1', 'NX') then
        for i = 1, #ARGV do
            redis.call('HSET', KEYS[1], ARGV[i], 'R|seed')
        end
    end
    return 1
`)

var commitScript = redis.NewScript(`
    local lost = 0
    for i = 3, #ARGV do
        if redis.call('HGET', KEYS[1], ARGV[i]) ~= ARGV[1] then
            lost = lost + 1
        end
        redis.call('HSET', KEYS[1], ARGV[i], ARGV[2])
    end
    return lost
`)

var releaseScript = redis.NewScript(`
    local freed = 0
    for i = 2, #ARGV do
        if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[1] then
            redis.call('HDEL', KEYS[1], ARGV[i])
            freed = freed + 1
        end
    end
    return freed
`)

// RedisLedger keeps occupancy in Redis so several server instances share
// one view of every schedule.  Holds carry an expiry so a process that dies
// between Reserve and Commit/Release cannot keep seats forever.
type RedisLedger struct {
	rdb     redis.UniversalClient
	source  OccupiedSource
	prefix  string
	holdTTL time.Duration
	now     func() time.Time
}

// NewRedisLedger returns a ledger storing its state under prefix.
func NewRedisLedger(rdb redis.UniversalClient, source OccupiedSource, prefix string, holdTTL time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "ledger"
	}
	if holdTTL <= 0 {
		holdTTL = 2 * time.Minute
	}
	return &RedisLedger{rdb: rdb, source: source, prefix: prefix, holdTTL: holdTTL, now: time.Now}
}

func (l *RedisLedger) keys(scheduleID uint64) []string {
	tag := "{" + strconv.FormatUint(scheduleID, 10) + "}"
	return []string{l.prefix + ":" + tag + ":seats", l.prefix + ":" + tag + ":seeded"}
}

func holdValue(h *Handle) string {
	return "H|" + h.ID + "|" + strconv.FormatInt(h.ExpiresAt.UnixMilli(), 10)
}

func (l *RedisLedger) seed(ctx context.Context, scheduleID uint64) error {
	var booked []string
	if l.source != nil {
		seats, err := l.source.BookedSeats(ctx, scheduleID)
		if err != nil {
			return err
		}
		for _, s := range seats {
			booked = append(booked, NormalizeSeat(s))
		}
	}
	args := make([]interface{}, 0, len(booked))
	for _, s := range booked {
		args = append(args, s)
	}
	return seedScript.Run(ctx, l.rdb, l.keys(scheduleID), args...).Err()
}

// Reserve claims all requested seats for the schedule or none of them.
func (l *RedisLedger) Reserve(ctx context.Context, sched *model.Schedule, seats []string) (*Handle, error) {
	labels, err := validateSeats(sched, seats)
	if err != nil {
		return nil, err
	}
	now := l.now()
	h := &Handle{
		ID:         uuid.NewString(),
		ScheduleID: sched.ID,
		Seats:      labels,
		ExpiresAt:  now.Add(l.holdTTL),
		owner:      l,
	}
	args := make([]interface{}, 0, len(labels)+2)
	args = append(args, now.UnixMilli(), holdValue(h))
	for _, s := range labels {
		args = append(args, s)
	}
	keys := l.keys(sched.ID)
	for attempt := 0; attempt < 2; attempt++ {
		res, err := reserveScript.Run(ctx, l.rdb, keys, args...).Slice()
		if err != nil {
			return nil, err
		}
		if len(res) == 0 {
			return nil, fmt.Errorf("ledger: empty reserve result")
		}
		code, _ := res[0].(int64)
		switch code {
		case 1:
			return h, nil
		case 0:
			taken := make([]string, 0, len(res)-1)
			for _, v := range res[1:] {
				taken = append(taken, fmt.Sprint(v))
			}
			return nil, &SeatError{Err: ErrSeatUnavailable, Seats: taken}
		case -1:
			if err := l.seed(ctx, sched.ID); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("ledger: unexpected reserve result %v", res)
		}
	}
	return nil, fmt.Errorf("ledger: schedule %d could not be seeded", sched.ID)
}

func (l *RedisLedger) commit(ctx context.Context, h *Handle, ref string) error {
	args := make([]interface{}, 0, len(h.Seats)+2)
	args = append(args, holdValue(h), "R|"+ref)
	for _, s := range h.Seats {
		args = append(args, s)
	}
	return commitScript.Run(ctx, l.rdb, l.keys(h.ScheduleID), args...).Err()
}

func (l *RedisLedger) release(ctx context.Context, h *Handle) error {
	args := make([]interface{}, 0, len(h.Seats)+1)
	args = append(args, holdValue(h))
	for _, s := range h.Seats {
		args = append(args, s)
	}
	return releaseScript.Run(ctx, l.rdb, l.keys(h.ScheduleID), args...).Err()
}

// Snapshot returns the status of every seat of the schedule.  Expired holds
// are reported as free.
func (l *RedisLedger) Snapshot(ctx context.Context, sched *model.Schedule) (map[string]Status, error) {
	keys := l.keys(sched.ID)
	seeded, err := l.rdb.Exists(ctx, keys[1]).Result()
	if err != nil {
		return nil, err
	}
	if seeded == 0 {
		if err := l.seed(ctx, sched.ID); err != nil {
			return nil, err
		}
	}
	vals, err := l.rdb.HGetAll(ctx, keys[0]).Result()
	if err != nil {
		return nil, err
	}
	nowMs := l.now().UnixMilli()
	out := freeSnapshot(sched)
	for label, v := range vals {
		if _, ok := out[label]; !ok {
			continue
		}
		switch {
		case strings.HasPrefix(v, "R|"):
			out[label] = StatusReserved
		case strings.HasPrefix(v, "H|"):
			parts := strings.Split(v, "|")
			exp, _ := strconv.ParseInt(parts[len(parts)-1], 10, 64)
			if exp > nowMs {
				out[label] = StatusHeld
			}
		}
	}
	return out, nil
}
