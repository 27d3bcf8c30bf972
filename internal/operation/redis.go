package operation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openidx/hrsync/internal/common/database"
	apperrors "github.com/openidx/hrsync/internal/common/errors"
)

// RedisRepository stores each operation in a hash and indexes it by
// scheduled day in one sorted set per operation type:
//
//	<prefix>:op:<type>:<user_id>  hash  first_name, last_name, email, day
//	<prefix>:due:<type>           zset  member user_id, score day
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a repository using the given key prefix
func NewRedisRepository(rc *database.RedisClient, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "hrsync"
	}
	return &RedisRepository{client: rc.Client, prefix: prefix}
}

func (r *RedisRepository) opKey(k Key) string {
	return fmt.Sprintf("%s:op:%s:%s", r.prefix, k.Type, k.UserID)
}

func (r *RedisRepository) indexKey(t Type) string {
	return fmt.Sprintf("%s:due:%s", r.prefix, t)
}

func (r *RedisRepository) write(ctx context.Context, pipe redis.Pipeliner, op PendingOperation) {
	day := dayNumber(op.ScheduledDate)
	pipe.HSet(ctx, r.opKey(op.Key()), map[string]interface{}{
		"first_name": op.FirstName,
		"last_name":  op.LastName,
		"email":      op.Email,
		"day":        day,
	})
	pipe.ZAdd(ctx, r.indexKey(op.Type), redis.Z{Score: float64(day), Member: op.UserID})
}

func (r *RedisRepository) Upsert(ctx context.Context, op PendingOperation) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.write(ctx, pipe, op)
		return nil
	})
	if err != nil {
		return apperrors.StoreError("upsert", err)
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, key Key) (*PendingOperation, error) {
	fields, err := r.client.HGetAll(ctx, r.opKey(key)).Result()
	if err != nil {
		return nil, apperrors.StoreError("get", err)
	}
	return decodeOperation(key, fields)
}

func (r *RedisRepository) Update(ctx context.Context, key Key, mutate func(*PendingOperation)) (bool, error) {
	found := false
	hashKey := r.opKey(key)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, hashKey).Result()
		if err != nil {
			return err
		}
		op, err := decodeOperation(key, fields)
		if err != nil || op == nil {
			return err
		}
		found = true
		mutate(op)
		op.UserID, op.Type = key.UserID, key.Type

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			r.write(ctx, pipe, *op)
			return nil
		})
		return err
	}, hashKey)
	if err != nil {
		return false, apperrors.StoreError("update", err)
	}
	return found, nil
}

func (r *RedisRepository) Due(ctx context.Context, t Type, cutoff time.Time) ([]PendingOperation, error) {
	userIDs, err := r.client.ZRangeByScore(ctx, r.indexKey(t), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(dayNumber(cutoff), 10),
	}).Result()
	if err != nil {
		return nil, apperrors.StoreError("due", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, r.opKey(Key{UserID: id, Type: t}))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperrors.StoreError("due", err)
	}

	ops := make([]PendingOperation, 0, len(userIDs))
	for i, id := range userIDs {
		op, err := decodeOperation(Key{UserID: id, Type: t}, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		if op != nil {
			ops = append(ops, *op)
		}
	}
	sortOperations(ops)
	return ops, nil
}

func (r *RedisRepository) Delete(ctx context.Context, keys ...Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Del(ctx, r.opKey(k))
			pipe.ZRem(ctx, r.indexKey(k.Type), k.UserID)
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.StoreError("delete", err)
	}
	n := 0
	for _, c := range cmds {
		n += int(c.Val())
	}
	return n, nil
}

func decodeOperation(key Key, fields map[string]string) (*PendingOperation, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	day, err := strconv.ParseInt(fields["day"], 10, 64)
	if err != nil {
		return nil, apperrors.StoreError("decode", errors.New("invalid day for "+key.String()))
	}
	return &PendingOperation{
		UserID:        key.UserID,
		Type:          key.Type,
		ScheduledDate: fromDayNumber(day),
		FirstName:     fields["first_name"],
		LastName:      fields["last_name"],
		Email:         fields["email"],
	}, nil
}
