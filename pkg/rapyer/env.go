package rapyer

import (
	"fmt"
	"os"
	"strings"

	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store/mock"
)

const (
	envMode     = "RAPYER_RUNTIME_MODE"
	envRedisURL = "RAPYER_REDIS_URL"

	modeAuto  = "auto"
	modeRedis = "redis"
	modeMock  = "mock"
)

// NewFromEnv initialises a Client from environment variables and returns
// the resolved mode ("redis" or "mock"). RAPYER_RUNTIME_MODE selects
// auto, redis, or mock; RAPYER_REDIS_URL supplies the redis:// URL.
func NewFromEnv() (*Client, string, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	url := strings.TrimSpace(os.Getenv(envRedisURL))

	switch mode {
	case "", modeAuto:
		if url != "" {
			return newRedisClient(url)
		}
		return NewClient(mock.New()), modeMock, nil
	case modeRedis:
		if url == "" {
			return nil, "", fmt.Errorf("rapyer: redis mode requires %s", envRedisURL)
		}
		return newRedisClient(url)
	case modeMock:
		return NewClient(mock.New()), modeMock, nil
	default:
		return nil, "", fmt.Errorf("rapyer: unsupported %s value %q", envMode, mode)
	}
}

func newRedisClient(url string) (*Client, string, error) {
	backend, err := store.DialRedis(url)
	if err != nil {
		return nil, "", fmt.Errorf("rapyer: init redis backend: %w", err)
	}
	return NewClient(backend), modeRedis, nil
}
