package state

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var errUnexpectedCASReply = errors.New("unexpected compare-and-set reply shape")

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// RedisQueueStore implements QueueStore against a shared redis. The
// ranked queue is a sorted set popped with ZPOPMAX, which is a single
// atomic command; FIFO queues are lists pushed with LPUSH and popped
// with RPOP.
type RedisQueueStore struct {
	cfg redisConfig
}

func NewRedisQueueStore(cfg RedisConfig) *RedisQueueStore {
	rc := redisConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Timeout: cfg.Timeout}
	return &RedisQueueStore{cfg: rc.withDefaults()}
}

// rankedScore folds the priority band and an insertion sequence into
// one sorted-set score. Higher bands always outscore lower ones; inside
// a band an older sequence yields a larger score, so ZPOPMAX drains the
// band FIFO. float64 holds the sum exactly while seq stays below the
// band offset, which a sequence counter will not reach in practice.
func rankedScore(priority int, seq int64) string {
	score := float64(priority)*1e15 - float64(seq)
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func (q *RedisQueueStore) Enqueue(ctx context.Context, key string, payload []byte, priority int) error {
	conn, rw, err := redisConnect(ctx, q.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeRESP(rw, "INCR", key+":seq"); err != nil {
		return err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return err
	}
	seq, err := respInt(resp)
	if err != nil {
		return err
	}
	if err := writeRESP(rw, "ZADD", key, rankedScore(priority, seq), string(payload)); err != nil {
		return err
	}
	_, err = readRESP(rw)
	return err
}

func (q *RedisQueueStore) DequeueMax(ctx context.Context, key string) ([]byte, bool, error) {
	conn, rw, err := redisConnect(ctx, q.cfg)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "ZPOPMAX", key); err != nil {
		return nil, false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return nil, false, err
	}
	arr, err := toStringArray(resp)
	if err != nil {
		return nil, false, err
	}
	if len(arr) < 2 || arr[0] == "" {
		return nil, false, nil
	}
	return []byte(arr[0]), true, nil
}

func (q *RedisQueueStore) PushList(ctx context.Context, key string, payload []byte) error {
	conn, rw, err := redisConnect(ctx, q.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeRESP(rw, "LPUSH", key, string(payload)); err != nil {
		return err
	}
	_, err = readRESP(rw)
	return err
}

func (q *RedisQueueStore) PopList(ctx context.Context, key string) ([]byte, bool, error) {
	conn, rw, err := redisConnect(ctx, q.cfg)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "RPOP", key); err != nil {
		return nil, false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return nil, false, err
	}
	s, ok, err := respString(resp)
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(s), true, nil
}

func (q *RedisQueueStore) ListLen(ctx context.Context, key string) (int64, error) {
	conn, rw, err := redisConnect(ctx, q.cfg)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "LLEN", key); err != nil {
		return 0, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return 0, err
	}
	return respInt(resp)
}

// casScript performs the version compare and state write as one server-
// side script, so the comparison and the apply cannot interleave with a
// competing writer.
const casScript = `local v = tonumber(redis.call('HGET', KEYS[1], 'version') or '0')
if v == tonumber(ARGV[1]) then
  v = v + 1
  redis.call('HSET', KEYS[1], 'state', ARGV[2], 'version', v)
  return {1, v}
end
return {0, v}`

// RedisStateStore implements StateStore against a shared redis. Each
// campaign is a hash with "state" and "version" fields.
type RedisStateStore struct {
	cfg redisConfig
}

func NewRedisStateStore(cfg RedisConfig) *RedisStateStore {
	rc := redisConfig{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Timeout: cfg.Timeout}
	return &RedisStateStore{cfg: rc.withDefaults()}
}

func (s *RedisStateStore) GetState(ctx context.Context, key string) ([]byte, int64, bool, error) {
	conn, rw, err := redisConnect(ctx, s.cfg)
	if err != nil {
		return nil, 0, false, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "HMGET", key, "state", "version"); err != nil {
		return nil, 0, false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return nil, 0, false, err
	}
	arr, err := toStringArray(resp)
	if err != nil {
		return nil, 0, false, err
	}
	if len(arr) < 2 || arr[1] == "" {
		return nil, 0, false, nil
	}
	version, err := strconv.ParseInt(arr[1], 10, 64)
	if err != nil {
		return nil, 0, false, err
	}
	return []byte(arr[0]), version, true, nil
}

func (s *RedisStateStore) CompareAndSetState(ctx context.Context, key string, expectedVersion int64, payload []byte) (bool, int64, error) {
	conn, rw, err := redisConnect(ctx, s.cfg)
	if err != nil {
		return false, 0, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "EVAL", casScript, "1", key, strconv.FormatInt(expectedVersion, 10), string(payload)); err != nil {
		return false, 0, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return false, 0, err
	}
	arr, err := toStringArray(resp)
	if err != nil {
		return false, 0, err
	}
	if len(arr) != 2 {
		return false, 0, errUnexpectedCASReply
	}
	okFlag, err := strconv.ParseInt(arr[0], 10, 64)
	if err != nil {
		return false, 0, err
	}
	version, err := strconv.ParseInt(arr[1], 10, 64)
	if err != nil {
		return false, 0, err
	}
	return okFlag == 1, version, nil
}

func (s *RedisStateStore) PutRecord(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	conn, rw, err := redisConnect(ctx, s.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if ttl > 0 {
		seconds := int64(ttl / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		if err := writeRESP(rw, "SET", key, string(payload), "EX", strconv.FormatInt(seconds, 10)); err != nil {
			return err
		}
	} else {
		if err := writeRESP(rw, "SET", key, string(payload)); err != nil {
			return err
		}
	}
	_, err = readRESP(rw)
	return err
}

func (s *RedisStateStore) GetRecord(ctx context.Context, key string) ([]byte, bool, error) {
	conn, rw, err := redisConnect(ctx, s.cfg)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "GET", key); err != nil {
		return nil, false, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := respString(resp)
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (s *RedisStateStore) IncrementBy(ctx context.Context, key string, delta float64) (float64, error) {
	conn, rw, err := redisConnect(ctx, s.cfg)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := writeRESP(rw, "INCRBYFLOAT", key, strconv.FormatFloat(delta, 'f', -1, 64)); err != nil {
		return 0, err
	}
	resp, err := readRESP(rw)
	if err != nil {
		return 0, err
	}
	v, ok, err := respString(resp)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}
