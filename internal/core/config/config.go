package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type AuditCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	Queue   int
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	Instance          string
	SpatialBackend    string
	H3Res             int
	GeoDBPath         string
	LookupConcurrency int
	CacheBackend      string
	CacheLRUSize      int
	CacheShards       int
	CacheTTL          time.Duration
	CacheOpTimeout    time.Duration
	AdmitThreshold    float64
	HotHalfLife       time.Duration
	HotLogSample      float64
	RedisAddr         string
	EngineTimeout     time.Duration
	EnginesFile       string
	Engines           []EngineSpec
	ExamplesDir       string
	MaxBodyBytes      int64
	WSOrigins         []string
	WSMaxInFlight     int
	Invalidation      InvalidationCfg
	Audit             AuditCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 9)
	if res < 0 || res > 15 {
		res = 9
	}
	brokers := getenv("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:              getenv("ADDR", ":8090"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
		Instance:          getenv("INSTANCE", ""),
		SpatialBackend:    strings.ToLower(getenv("SPATIAL_BACKEND", "h3")),
		H3Res:             res,
		GeoDBPath:         getenv("GEO_DB_PATH", "netplan.db"),
		LookupConcurrency: getint("LOOKUP_CONCURRENCY", 16),
		CacheBackend:      strings.ToLower(getenv("CACHE_BACKEND", "memory")),
		CacheLRUSize:      getint("CACHE_LRU_SIZE", 4096),
		CacheShards:       getint("CACHE_SHARDS", 32),
		CacheTTL:          getduration("CACHE_TTL", 0),
		CacheOpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		AdmitThreshold:    getfloat("CACHE_ADMIT_THRESHOLD", 0),
		HotHalfLife:       getduration("HOTNESS_HALF_LIFE", 10*time.Minute),
		HotLogSample:      getfloat("LOG_HOTNESS_SAMPLE", 0.01),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		EngineTimeout:     getduration("ENGINE_TIMEOUT", 2*time.Minute),
		EnginesFile:       getenv("ENGINES_FILE", ""),
		Engines:           enginesFromEnv(),
		ExamplesDir:       getenv("EXAMPLES_DIR", "examples"),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 4<<20)),
		WSOrigins:         getlist("WS_ORIGIN_PATTERNS"),
		WSMaxInFlight:     getint("WS_MAX_IN_FLIGHT", 8),
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("INVALIDATION_TOPIC", "netplan-cache-invalidation"),
			Brokers: brokers,
			GroupID: getenv("KAFKA_GROUP_ID", "netplan-cache-invalidator"),
		},
		Audit: AuditCfg{
			Enabled: getbool("AUDIT_ENABLED", false),
			Topic:   getenv("AUDIT_TOPIC", "netplan-engine-audit"),
			Brokers: brokers,
			Queue:   getint("AUDIT_QUEUE", 1024),
		},
	}
}

// Load reads the environment and, when ENGINES_FILE is set, replaces the
// engine table with the file's contents.
func Load() (Config, error) {
	cfg := FromEnv()
	if cfg.EnginesFile == "" {
		return cfg, nil
	}
	specs, err := LoadEngines(cfg.EnginesFile)
	if err != nil {
		return cfg, err
	}
	cfg.Engines = specs
	return cfg, nil
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

func getfloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k string) []string {
	var out []string
	for p := range strings.SplitSeq(os.Getenv(k), ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
