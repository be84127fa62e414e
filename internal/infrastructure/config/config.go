package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string
	ServiceName    string
	Env            string
	PaymentTimeout time.Duration
	// Simulated processor behaviour; only used by the built-in processor.
	PaymentDeclineRate     float64
	PaymentUnavailableRate float64
}

// Load reads configuration from the environment, optionally seeded from a
// local .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:               getenv("HTTP_ADDR", ":8080"),
		ServiceName:            getenv("SERVICE_NAME", "quillmart-checkout"),
		Env:                    getenv("ENV", "dev"),
		PaymentTimeout:         getduration("PAYMENT_TIMEOUT", 5*time.Second),
		PaymentDeclineRate:     getfloat("PAYMENT_DECLINE_RATE", 0),
		PaymentUnavailableRate: getfloat("PAYMENT_UNAVAILABLE_RATE", 0),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
