package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client with refresh-token operations
type RedisClient struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password, prefix string, refreshTTLDays int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	slog.Info("Redis client initialized successfully", "addr", addr)
	return &RedisClient{
		client: client,
		prefix: prefix,
		ttl:    time.Duration(refreshTTLDays) * 24 * time.Hour,
	}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) refreshKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", r.prefix, token)
}

// IssueRefreshToken stores a fresh opaque token mapped to the user id
func (r *RedisClient) IssueRefreshToken(ctx context.Context, userID uint) (string, error) {
	token := uuid.NewString()
	err := r.client.Set(ctx, r.refreshKey(token), strconv.FormatUint(uint64(userID), 10), r.ttl).Err()
	if err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return token, nil
}

// VerifyRefreshToken checks a token, consumes it, and issues a replacement.
// Returns (0, "", nil) when the token is unknown or expired.
func (r *RedisClient) VerifyRefreshToken(ctx context.Context, token string) (uint, string, error) {
	val, err := r.client.Get(ctx, r.refreshKey(token)).Result()
	if err == redis.Nil {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to look up refresh token: %w", err)
	}

	userID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("corrupt refresh token value: %w", err)
	}

	if err := r.client.Del(ctx, r.refreshKey(token)).Err(); err != nil {
		return 0, "", fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	newToken, err := r.IssueRefreshToken(ctx, uint(userID))
	if err != nil {
		return 0, "", err
	}

	return uint(userID), newToken, nil
}

// RevokeRefreshToken deletes a token; unknown tokens are a no-op
func (r *RedisClient) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.refreshKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}
