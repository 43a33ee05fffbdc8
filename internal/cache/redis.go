package cache

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// PageCache stores fetched page bytes keyed by URL. Its only purpose is to
// let a run that was killed and restarted inside the TTL re-read pages it
// already paid a request for, instead of spending the politeness budget on
// them again. Cache failures degrade to a miss; they never fail a fetch.
type PageCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPageCache creates a new Redis-backed page cache.
func NewPageCache(redisURL string, ttl time.Duration) (*PageCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &PageCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// Close closes the Redis connection.
func (pc *PageCache) Close() error {
	return pc.client.Close()
}

// HealthCheck pings Redis to verify connection.
func (pc *PageCache) HealthCheck(ctx context.Context) error {
	return pc.client.Ping(ctx).Err()
}

// GetPage returns cached page bytes for a URL, or false on a miss.
func (pc *PageCache) GetPage(ctx context.Context, url string) ([]byte, bool) {
	body, err := pc.client.Get(ctx, key(url)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("  ⚠️  page cache read failed for %s: %v", url, err)
		return nil, false
	}
	return body, true
}

// PutPage stores page bytes for a URL with the configured TTL.
func (pc *PageCache) PutPage(ctx context.Context, url string, body []byte) {
	if err := pc.client.Set(ctx, key(url), body, pc.ttl).Err(); err != nil {
		log.Printf("  ⚠️  page cache write failed for %s: %v", url, err)
	}
}

func key(url string) string {
	return "page:" + url
}
