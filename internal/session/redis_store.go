package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix     = "userauth:session:"
	userSessionKeyPrefix = "userauth:user_sessions:"
)

// RedisStore keeps one key per session (value = user id, TTL = session
// lifetime) plus a per-user set used for bulk revocation.
type RedisStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func sessionKey(id string) string         { return sessionKeyPrefix + id }
func userSessionsKey(userID string) string { return userSessionKeyPrefix + userID }

func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), sess.UserID, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.ID)
	// every session shares one lifetime, so the newest one bounds the set
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	pipe := s.rdb.Pipeline()
	getCmd := pipe.Get(ctx, sessionKey(id))
	ttlCmd := pipe.PTTL(ctx, sessionKey(id))

	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	sess := Session{ID: id, UserID: getCmd.Val()}
	if ttl := ttlCmd.Val(); ttl > 0 {
		sess.ExpiresAt = s.now().Add(ttl)
	}

	return sess, nil
}

func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	userID, err := s.rdb.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		// already gone; revoking is idempotent
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, userSessionsKey(userID), id)

	_, err = pipe.Exec(ctx)
	return err
}

// RevokeAllForUser removes every session listed for the user. Only the ids
// that were read are taken out of the set, so a login that lands while this
// runs stays indexed and is caught by the next revoke.
func (s *RedisStore) RevokeAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
		members = append(members, id)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, userSessionsKey(userID), members...)

	_, err = pipe.Exec(ctx)
	return err
}
