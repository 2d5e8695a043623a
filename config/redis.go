package config

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// ConnectRedis establishes connection to Redis. A nil client means the
// scheduler falls back to running without a cross-instance lock.
func ConnectRedis(ctx context.Context, cfg RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	// Test the connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		log.Println("Collection cycle runs will not be guarded across instances")
		_ = client.Close()
		return nil
	}

	log.Println("Connected to Redis")
	return client
}
