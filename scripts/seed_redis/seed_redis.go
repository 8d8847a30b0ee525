package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	seedAPIKeys(ctx, client)
	seedTags(ctx, client)
	seedActivity(ctx, client)
	verify(ctx, client)

	fmt.Println("\nRedis seeded")
	fmt.Println("   Run next: go run ./cmd/geotrack serve")
}

// Device keys map device:auth:{key} to the one device the key may act for.
func seedAPIKeys(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── API keys ────────────────────────────────────")

	apiKeys := map[string]string{
		"device:auth:van_01_key":   "van-01",
		"device:auth:van_02_key":   "van-02",
		"device:auth:truck_07_key": "truck-07",
		"device:auth:test_key":     "test-device",
	}

	for key, deviceID := range apiKeys {
		if err := client.Set(ctx, key, deviceID, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-30s -> %s\n", key, deviceID)
	}
}

// Tags decide which geofences and impossible-speed rules apply.
func seedTags(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Tags ────────────────────────────────────────")

	tags := map[string][]string{
		"device:van-01:tags":     {"van", "north"},
		"device:van-02:tags":     {"van", "south"},
		"device:truck-07:tags":   {"truck", "north"},
		"login:driver-ana:tags":  {"night"},
		"login:driver-bela:tags": {"trainee"},
	}

	for key, members := range tags {
		pipe := client.TxPipeline()
		pipe.Del(ctx, key)
		for _, m := range members {
			pipe.SAdd(ctx, key, m)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			log.Fatalf("Failed to seed %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-25s %v\n", key, members)
	}
}

func seedActivity(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Activity ────────────────────────────────────")

	activity := map[string]string{
		"device:van-01:activity":   `{"name":"IN_VEHICLE"}`,
		"device:truck-07:activity": `"STILL"`,
	}
	for key, val := range activity {
		if err := client.Set(ctx, key, val, 0).Err(); err != nil {
			log.Fatalf("Failed to set %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-25s %s\n", key, val)
	}
}

func verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Verification ────────────────────────────────")

	keys, err := client.Keys(ctx, "device:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d API keys found in Redis\n", len(keys))

	val, err := client.Get(ctx, "device:auth:test_key").Result()
	if err != nil {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: device:auth:test_key -> %s\n", val)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
