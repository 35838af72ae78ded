package config

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var RedisClient *redis.Client

// InitRedis connects the stream/cache Redis. REDIS_ADDR may be a host:port
// or a redis:// URL.
func InitRedis() error {
	val := os.Getenv("REDIS_ADDR")
	if val == "" {
		val = os.Getenv("REDIS_URI")
	}
	if val == "" {
		val = os.Getenv("REDIS_URL")
	}
	if val == "" {
		return errors.New("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")
	}

	var opt *redis.Options
	if strings.HasPrefix(val, "redis://") || strings.HasPrefix(val, "rediss://") {
		parsed, err := redis.ParseURL(val)
		if err != nil {
			return err
		}
		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     val,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0, 0, 15),
		}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	RedisClient = client
	return nil
}
