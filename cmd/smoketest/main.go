// Smoke test for a running greenscore deployment: checks Redis, the
// score endpoint and the Kafka invalidation round trip.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/ecoscore/greenscore/internal/invalidation"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	pingErr := client.Ping(ctx).Err()
	if pingErr != nil {
		return fmt.Errorf("redis ping: %w", pingErr)
	}

	setErr := client.Set(ctx, "smoketest", "ok", 30*time.Second).Err()
	if setErr != nil {
		return fmt.Errorf("redis set: %w", setErr)
	}

	val, err := client.Get(ctx, "smoketest").Result()
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}

	fmt.Println("redis GET smoketest: ", val)
	return nil
}

func testScoreEndpoint(baseURL, zip string) error {
	fmt.Println("Score endpoint test")

	scoreURL := fmt.Sprintf("%s/green-score?zip=%s", strings.TrimRight(baseURL, "/"), zip)
	resp, err := http.Get(scoreURL)
	if err != nil {
		return fmt.Errorf("http get score: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("score status %d: %s", resp.StatusCode, string(b))
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Println("X-Cache:", resp.Header.Get("X-Cache"), "ETag:", resp.Header.Get("ETag"))
	fmt.Println("score sample:")
	fmt.Println(string(body))
	return nil
}

func testKafka(brokers []string, topic, zip string) error {
	fmt.Println("Kafka test")

	// Configure sarama and produce an invalidation event
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.Event{
		Version:      1,
		Op:           "invalidate",
		LocationKeys: []string{zip},
		TS:           time.Now().UTC(),
		Source:       "smoketest",
	}

	msgBytes, _ := json.Marshal(ev)
	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Println("produced one invalidation event")

	// Consume it back
	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		pc, err = consumer.ConsumePartition(topic, 0, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume partition: %w", err)
		}
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}

	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	baseURL := getenv("GREENSCORE_URL", "http://localhost:8080")
	zip := getenv("SMOKETEST_ZIP", "77002")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "greenscore-invalidation")

	failed := false
	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("redis test failed:", err)
		failed = true
	}
	if err := testScoreEndpoint(baseURL, zip); err != nil {
		fmt.Println("score endpoint test failed:", err)
		failed = true
	}
	if getenv("INVALIDATION_ENABLED", "") == "true" {
		if err := testKafka(brokers, topic, zip); err != nil {
			fmt.Println("kafka test failed:", err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
	fmt.Println("all smoke tests passed")
}
