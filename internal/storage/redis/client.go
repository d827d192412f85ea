package redis

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Typing flags live under typing:{conversation}:{user} and expire on their own
// when the client stops refreshing them.
const typingPrefix = "typing:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient wraps a connection owned by the caller.
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func typingKey(conversationID, userID string) string {
	return typingPrefix + conversationID + ":" + userID
}

// SetTyping writes SET typing:{conv}:{user} 1 EX ttl.
func (c *Client) SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error {
	if err := c.cli.Set(ctx, typingKey(conversationID, userID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis.SetTyping: %w", err)
	}
	return nil
}

func (c *Client) ClearTyping(ctx context.Context, conversationID, userID string) error {
	if err := c.cli.Del(ctx, typingKey(conversationID, userID)).Err(); err != nil {
		return fmt.Errorf("redis.ClearTyping: %w", err)
	}
	return nil
}

// TypingUsers scans the conversation's live flags. Expired keys are already
// gone server-side.
func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	prefix := typingPrefix + conversationID + ":"
	users := make([]string, 0, 4)
	iter := c.cli.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis.TypingUsers: %w", err)
	}
	slices.Sort(users)
	return slices.Compact(users), nil
}

// FlushDB clears the current database (tests and local resets).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
