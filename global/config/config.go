package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"CRMProject/logger"
)

// AppConfig 汇总全部配置段（.env / 环境变量加载）
type AppConfig struct {
	HTTP      HTTPConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Nats      NatsConfig
	JWT       JWTConfig
	Blob      BlobConfig
	Gateway   GatewayConfig
	Transport TransportConfig
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
}

type MongoConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type NatsConfig struct {
	Servers []string
	Name    string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type BlobConfig struct {
	Dir     string // 本地存储目录
	BaseURL string // 返回给客户端的URL前缀
}

type GatewayConfig struct {
	SendQueue   int           // 每连接发送队列长度
	PresenceTTL time.Duration // redis 在线键TTL
}

// TransportDriver selects the channel transport implementation.
const (
	TransportHub  = "hub"
	TransportNats = "nats"
)

type TransportConfig struct {
	Driver string // hub | nats
}

// Load reads .env when present, then the environment. Missing keys fall
// back to single-node defaults so a bare `go run` works.
func Load() *AppConfig {
	if err := godotenv.Load(); err != nil {
		logger.Infof("[config] no .env file, using environment only")
	}

	cfg := &AppConfig{
		HTTP: HTTPConfig{
			Addr:           getEnv("HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(getEnv("HTTP_ALLOWED_ORIGINS", "")),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://127.0.0.1:27017"),
			Database: getEnv("MONGO_DB", "crm"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Nats: NatsConfig{
			Servers: splitList(getEnv("NATS_SERVERS", "nats://127.0.0.1:4222")),
			Name:    getEnv("NATS_NAME", "crm-realtime"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			TTL:    getEnvDuration("JWT_TTL", 2*time.Hour),
		},
		Blob: BlobConfig{
			Dir:     getEnv("BLOB_DIR", "./uploads"),
			BaseURL: getEnv("BLOB_BASE_URL", "/uploads"),
		},
		Gateway: GatewayConfig{
			SendQueue:   getEnvInt("GATEWAY_SEND_QUEUE", 256),
			PresenceTTL: getEnvDuration("GATEWAY_PRESENCE_TTL", 60*time.Second),
		},
		Transport: TransportConfig{
			Driver: getEnv("TRANSPORT_DRIVER", TransportHub),
		},
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.Warnf("[config] %s invalid int %q, using %d", key, v, def)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warnf("[config] %s invalid duration %q, using %s", key, v, def)
	}
	return def
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
