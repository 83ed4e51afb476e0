package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/mailio/mailvec/internal/db"
)

// LPush pushes a value onto the head of a list.
func (s *Store) LPush(ctx context.Context, key string, value []byte) error {
	cmd := s.b().Lpush().Key(key).Element(rueidis.BinaryString(value)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpLPush, Err: err}
	}
	return nil
}

// BRPop blocks up to timeout for an element from the tail of the list.
// Returns db.ErrKeyNotFound when the timeout expires with nothing available.
// rueidis routes blocking commands over a dedicated connection.
func (s *Store) BRPop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	cmd := s.b().Brpop().Key(key).Timeout(timeout.Seconds()).Build()
	arr, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, db.ErrKeyNotFound
		}
		return nil, &db.Error{Op: db.OpBRPop, Err: err}
	}
	// BRPOP replies [key, element]
	if len(arr) < 2 {
		return nil, db.ErrKeyNotFound
	}
	data, err := arr[1].AsBytes()
	if err != nil {
		return nil, &db.Error{Op: db.OpBRPop, Err: err}
	}
	return data, nil
}

// LLen returns the length of a list.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	cmd := s.b().Llen().Key(key).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpLLen, Err: err}
	}
	return n, nil
}

// ZAdd adds a member to a sorted set with the given score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	cmd := s.b().Zadd().Key(key).ScoreMember().
		ScoreMember(score, rueidis.BinaryString(member)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpZAdd, Err: err}
	}
	return nil
}

// ZPopDue removes and returns up to limit members with score <= max. A member
// is returned only if this caller's ZREM claimed it, so competing movers never
// deliver the same member twice.
func (s *Store) ZPopDue(ctx context.Context, key string, max float64, limit int) ([][]byte, error) {
	rangeCmd := s.b().Zrangebyscore().Key(key).
		Min("-inf").Max(strconv.FormatFloat(max, 'f', -1, 64)).
		Limit(0, int64(limit)).Build()
	members, err := s.do(ctx, rangeCmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpZRange, Err: err}
	}
	if len(members) == 0 {
		return nil, nil
	}

	claimed := make([][]byte, 0, len(members))
	for _, m := range members {
		remCmd := s.b().Zrem().Key(key).Member(m).Build()
		removed, err := s.do(ctx, remCmd).AsInt64()
		if err != nil {
			return claimed, &db.Error{Op: db.OpZRem, Err: err}
		}
		if removed > 0 {
			claimed = append(claimed, []byte(m))
		}
	}
	return claimed, nil
}
