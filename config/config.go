package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Config is everything the till reads from its environment. A .env file in
// the working directory is honored when present.
type Config struct {
	ListenAddr     string
	BackendURL     string
	RestaurantID   string
	Username       string
	Password       string
	TaxRateBp      int // basis points, 2000 = 20%
	CurrencySymbol string
	PollInterval   time.Duration
	ReceiptBaseURL string

	RedisAddr   string // empty disables the menu cache
	KafkaBroker string // empty disables event publishing
	KafkaTopic  string
}

func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("could not read .env file")
	}

	return Config{
		ListenAddr:     getenv("TILL_LISTEN_ADDR", ":8090"),
		BackendURL:     getenv("TILL_BACKEND_URL", "http://localhost:8000"),
		RestaurantID:   os.Getenv("TILL_RESTAURANT_ID"),
		Username:       os.Getenv("TILL_USERNAME"),
		Password:       os.Getenv("TILL_PASSWORD"),
		TaxRateBp:      getenvInt("TILL_TAX_RATE_BP", 2000),
		CurrencySymbol: getenv("TILL_CURRENCY_SYMBOL", "£"),
		PollInterval:   time.Duration(getenvInt("TILL_POLL_INTERVAL_SECONDS", 10)) * time.Second,
		ReceiptBaseURL: getenv("TILL_RECEIPT_BASE_URL", "http://localhost:8090"),
		RedisAddr:      os.Getenv("TILL_REDIS_ADDR"),
		KafkaBroker:    os.Getenv("TILL_KAFKA_BROKER"),
		KafkaTopic:     getenv("TILL_KAFKA_TOPIC", "till-events"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("not an integer: %q, using %d", v, fallback)
		return fallback
	}
	return n
}

// MustInitRedis connects the menu-cache store or dies trying.
func MustInitRedis(addr string) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logrus.WithError(err).Fatal("failed to connect to redis")
	}
	return client
}

func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}
