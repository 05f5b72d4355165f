package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type OrderCfg struct {
	Backend  string
	File     string
	RedisKey string
	SQLDSN   string
	Default  []string
}

type BootstrapSource struct {
	Name string
	URL  string
}

type EventsCfg struct {
	KafkaEnabled bool
	Brokers      []string
	Topic        string
	Queue        int
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	UploadDir        string
	MaxUploadBytes   int64
	RedisAddr        string
	Order            OrderCfg
	Bootstrap        []BootstrapSource
	BootstrapTimeout time.Duration
	ReingestLocal    bool
	IngestWorkers    int
	LayerOpacity     float64
	AdminToken       string
	H3Res            int
	Events           EventsCfg
	EncodedCacheSize int
}

const defaultBootstrap = "Taluka=https://github.com/himgis/webgis/raw/master/uploads/Taluka.zip," +
	"P_Location=https://github.com/himgis/webgis/raw/master/uploads/P_Location.zip"

func FromEnv() Config {
	uploadDir := getenv("UPLOAD_DIR", "uploads")

	res := getint("H3_RES", 5)
	if res < 0 || res > 15 {
		res = 5
	}

	workers := getint("INGEST_WORKERS", 4)
	if workers < 1 {
		workers = 1
	}

	return Config{
		Addr:           getenv("ADDR", ":5000"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		UploadDir:      uploadDir,
		MaxUploadBytes: int64(getint("MAX_UPLOAD_BYTES", 256<<20)),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		Order: OrderCfg{
			Backend:  strings.ToLower(getenv("ORDER_BACKEND", "file")),
			File:     getenv("ORDER_FILE", filepath.Join(uploadDir, "layer_order.json")),
			RedisKey: getenv("ORDER_REDIS_KEY", "webgis:layer_order"),
			SQLDSN:   getenv("ORDER_SQL_DSN", filepath.Join(uploadDir, "layers.db")),
			Default:  parseList(getenv("DEFAULT_ORDER", "P_Location,Taluka")),
		},
		Bootstrap:        parseSources(getenv("BOOTSTRAP_SOURCES", defaultBootstrap)),
		BootstrapTimeout: getduration("BOOTSTRAP_TIMEOUT", 60*time.Second),
		ReingestLocal:    getbool("REINGEST_LOCAL", true),
		IngestWorkers:    workers,
		LayerOpacity:     getfloat("LAYER_OPACITY", 0.7),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		H3Res:            res,
		Events: EventsCfg{
			KafkaEnabled: getbool("EVENTS_KAFKA_ENABLED", false),
			Brokers:      parseList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:        getenv("KAFKA_TOPIC", "layer-events"),
			Queue:        getint("EVENTS_QUEUE", 1024),
		},
		EncodedCacheSize: getint("ENCODED_CACHE_SIZE", 128),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a,b, c" into [a b c], skipping blanks
func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parse "Taluka=https://...,P_Location=https://..." keeping declaration order
func parseSources(s string) []BootstrapSource {
	var out []BootstrapSource
	seen := map[string]bool{}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		url := strings.TrimSpace(kv[1])
		if name == "" || url == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, BootstrapSource{Name: name, URL: url})
	}
	return out
}
