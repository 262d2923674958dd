package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/complaint-engine/types"
)

const (
	customerPrefix      = "customer:"
	customerEmailPrefix = "customer_email:"
	complaintPrefix     = "complaint:"
	complaintIndex      = "complaints"
	customerIndexPrefix = "customer_complaints:"
	auditPrefix         = "audit:"

	// maxTxRetries bounds optimistic transactions that lose a WATCH race.
	maxTxRetries = 50
)

// RedisStore keeps records as JSON values. Complaints are indexed in a set
// and per customer in a sorted set scored by received time.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	// KeyPrefix namespaces every key, e.g. per environment or test run.
	KeyPrefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, keyPrefix: opts.KeyPrefix}, nil
}

func (s *RedisStore) key(prefix, id string) string {
	return s.keyPrefix + prefix + id
}

func setJSON(ctx context.Context, pipe redis.Pipeliner, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	pipe.Set(ctx, key, data, 0)
	return nil
}

// getJSON loads and decodes the value stored at key.
func getJSON[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("get %s: %w", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("unmarshal %s: %w", key, err)
		}
		return result, nil
	})
}

// loadComplaints fetches the given complaint ids in one round trip and skips
// ids whose record has disappeared.
func (s *RedisStore) loadComplaints(ctx context.Context, ids []string) ([]types.ComplaintRecord, error) {
	if len(ids) == 0 {
		return []types.ComplaintRecord{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(complaintPrefix, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget complaints: %w", err)
	}

	out := make([]types.ComplaintRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r types.ComplaintRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", keys[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) SaveCustomer(ctx context.Context, c types.Customer) error {
	return withContextError(ctx, func() error {
		old, err := s.GetCustomer(ctx, c.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		pipe := s.client.TxPipeline()
		if old.Email != "" && !strings.EqualFold(old.Email, c.Email) {
			pipe.Del(ctx, s.key(customerEmailPrefix, strings.ToLower(old.Email)))
		}
		if err := setJSON(ctx, pipe, s.key(customerPrefix, c.ID), c); err != nil {
			return err
		}
		if c.Email != "" {
			pipe.Set(ctx, s.key(customerEmailPrefix, strings.ToLower(c.Email)), c.ID, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("save customer %s: %w", c.ID, err)
		}
		return nil
	})
}

// watch runs fn in a WATCH transaction over keys, retrying while another
// client modifies a watched key first.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("watch %v: %w", keys, redis.TxFailedErr)
}

func (s *RedisStore) CreateCustomer(ctx context.Context, c types.Customer) error {
	return withContextError(ctx, func() error {
		key := s.key(customerPrefix, c.ID)
		keys := []string{key}
		var emailKey string
		if c.Email != "" {
			emailKey = s.key(customerEmailPrefix, strings.ToLower(c.Email))
			keys = append(keys, emailKey)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}

		return s.watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("check customer %s: %w", c.ID, err)
			}
			if n > 0 {
				return fmt.Errorf("%w: id=%s email=%s", ErrCustomerExists, c.ID, c.Email)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				if emailKey != "" {
					pipe.Set(ctx, emailKey, c.ID, 0)
				}
				return nil
			})
			return err
		}, keys...)
	})
}

func (s *RedisStore) IncrementComplaintCount(ctx context.Context, id string, at time.Time) (types.Customer, error) {
	return withContext(ctx, func() (types.Customer, error) {
		key := s.key(customerPrefix, id)
		var c types.Customer
		err := s.watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: key=%s", ErrCustomerNotFound, key)
			} else if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			c = types.Customer{}
			if err := json.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("unmarshal %s: %w", key, err)
			}
			c.TotalComplaints++
			c.UpdatedAt = at
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return setJSON(ctx, pipe, key, c)
			})
			return err
		}, key)
		if err != nil {
			return types.Customer{}, err
		}
		return c, nil
	})
}

func (s *RedisStore) GetCustomer(ctx context.Context, id string) (types.Customer, error) {
	return getJSON[types.Customer](ctx, s.client, s.key(customerPrefix, id), ErrCustomerNotFound)
}

func (s *RedisStore) FindCustomerByEmail(ctx context.Context, email string) (types.Customer, error) {
	id, err := s.client.Get(ctx, s.key(customerEmailPrefix, strings.ToLower(email))).Result()
	if errors.Is(err, redis.Nil) {
		return types.Customer{}, fmt.Errorf("%w: email=%s", ErrCustomerNotFound, email)
	} else if err != nil {
		return types.Customer{}, fmt.Errorf("lookup customer email: %w", err)
	}
	return s.GetCustomer(ctx, id)
}

func (s *RedisStore) SaveComplaint(ctx context.Context, r types.ComplaintRecord) error {
	return withContextError(ctx, func() error {
		pipe := s.client.TxPipeline()
		if err := setJSON(ctx, pipe, s.key(complaintPrefix, r.ID), r); err != nil {
			return err
		}
		pipe.SAdd(ctx, s.key(complaintIndex, ""), r.ID)
		if r.CustomerID != "" {
			pipe.ZAdd(ctx, s.key(customerIndexPrefix, r.CustomerID), &redis.Z{
				Score:  float64(r.ReceivedAt.UnixMilli()),
				Member: r.ID,
			})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("save complaint %s: %w", r.ID, err)
		}
		return nil
	})
}

func (s *RedisStore) GetComplaint(ctx context.Context, id string) (types.ComplaintRecord, error) {
	return getJSON[types.ComplaintRecord](ctx, s.client, s.key(complaintPrefix, id), ErrComplaintNotFound)
}

// ListComplaints loads the whole index and filters client side.
// TODO: keep a priority-scored sorted set so paging does not load every record.
func (s *RedisStore) ListComplaints(ctx context.Context, f ComplaintFilter) ([]types.ComplaintRecord, error) {
	return withContext(ctx, func() ([]types.ComplaintRecord, error) {
		ids, err := s.client.SMembers(ctx, s.key(complaintIndex, "")).Result()
		if err != nil {
			return nil, fmt.Errorf("list complaint ids: %w", err)
		}
		records, err := s.loadComplaints(ctx, ids)
		if err != nil {
			return nil, err
		}
		return selectPage(records, f), nil
	})
}

func (s *RedisStore) RecentComplaints(ctx context.Context, customerID string, limit int) ([]types.ComplaintRecord, error) {
	return withContext(ctx, func() ([]types.ComplaintRecord, error) {
		stop := int64(-1)
		if limit > 0 {
			stop = int64(limit - 1)
		}
		ids, err := s.client.ZRevRange(ctx, s.key(customerIndexPrefix, customerID), 0, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("list complaints of %s: %w", customerID, err)
		}
		records, err := s.loadComplaints(ctx, ids)
		if err != nil {
			return nil, err
		}
		return newestFirst(records, limit), nil
	})
}

func (s *RedisStore) AppendAudit(ctx context.Context, complaintID string, entries []types.AuditEntry) error {
	return withContextError(ctx, func() error {
		if len(entries) == 0 {
			return nil
		}
		values := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
			}
			values = append(values, data)
		}
		if err := s.client.RPush(ctx, s.key(auditPrefix, complaintID), values...).Err(); err != nil {
			return fmt.Errorf("append audit of %s: %w", complaintID, err)
		}
		return nil
	})
}

func (s *RedisStore) GetAudit(ctx context.Context, complaintID string) ([]types.AuditEntry, error) {
	return withContext(ctx, func() ([]types.AuditEntry, error) {
		raw, err := s.client.LRange(ctx, s.key(auditPrefix, complaintID), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read audit of %s: %w", complaintID, err)
		}
		out := make([]types.AuditEntry, 0, len(raw))
		for _, item := range raw {
			var e types.AuditEntry
			if err := json.Unmarshal([]byte(item), &e); err != nil {
				return nil, fmt.Errorf("unmarshal audit entry: %w", err)
			}
			out = append(out, e)
		}
		return out, nil
	})
}

// Flush deletes every key under the store's prefix. It refuses to run
// without a prefix.
func (s *RedisStore) Flush(ctx context.Context) error {
	return withContextError(ctx, func() error {
		if s.keyPrefix == "" {
			return errors.New("flush needs a key prefix")
		}
		iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}
		return s.client.Del(ctx, keys...).Err()
	})
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
