package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// DocStoreConnector wraps the cloud document store used by the CHINA
// region. Documents are JSON values addressed by key.
type DocStoreConnector struct {
	client *redis.Client
}

// ConnectDocStore establishes a connection to the document store.
func ConnectDocStore(storeURL string) (*DocStoreConnector, error) {
	if storeURL == "" {
		return nil, fmt.Errorf("document store requires a connection URL")
	}

	opt, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document store URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}

	return &DocStoreConnector{client: client}, nil
}

func (c *DocStoreConnector) Engine() policy.StorageEngine {
	return policy.EngineDocumentStore
}

func (c *DocStoreConnector) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *DocStoreConnector) Close() error {
	return c.client.Close()
}

func (c *DocStoreConnector) Health() map[string]interface{} {
	health := map[string]interface{}{
		"engine": string(policy.EngineDocumentStore),
		"status": "healthy",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		health["status"] = "unhealthy"
		health["error"] = err.Error()
	}
	return health
}

// SetDocument stores a JSON document under key with an expiration.
func (c *DocStoreConnector) SetDocument(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// GetDocument loads the JSON document stored under key into dest.
func (c *DocStoreConnector) GetDocument(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("document not found: %s", key)
		}
		return fmt.Errorf("failed to get document %s: %w", key, err)
	}
	return json.Unmarshal([]byte(data), dest)
}

// DeleteDocuments removes the documents stored under keys.
func (c *DocStoreConnector) DeleteDocuments(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}
