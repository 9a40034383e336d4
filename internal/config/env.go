package config

import (
	"errors"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

var configType = reflect.TypeOf(Config{})

type Config struct {
	DatabaseURL  string        `env:"DATABASE_URL" validate:"required_if=StoreBackend postgres"`
	StoreBackend string        `env:"STORE_BACKEND" validate:"oneof=postgres memory"`
	DBTimeout    time.Duration `env:"DB_TIMEOUT" validate:"gt=0"`
	DBMaxConns   int           `env:"DB_MAX_CONNS" validate:"gte=4,lte=1000"`

	EmbedProvider    string        `env:"EMBED_PROVIDER" validate:"oneof=openai azure gemini"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY" validate:"required_if=EmbedProvider openai"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	AzureEndpoint    string        `env:"AZURE_OPENAI_ENDPOINT" validate:"required_if=EmbedProvider azure"`
	AzureAPIKey      string        `env:"AZURE_OPENAI_API_KEY" validate:"required_if=EmbedProvider azure"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY" validate:"required_if=EmbedProvider gemini"`
	EmbedModel       string        `env:"EMBED_MODEL"`
	EmbedDim         int           `env:"EMBED_DIM" validate:"gt=0,lte=16000"`
	EmbedTimeout     time.Duration `env:"EMBED_TIMEOUT" validate:"gt=0"`
	EmbedMaxAttempts int           `env:"EMBED_MAX_ATTEMPTS" validate:"gte=1,lte=10"`
	EmbedBackoffBase time.Duration `env:"EMBED_BACKOFF_BASE" validate:"gt=0"`
	EmbedBatchSize   int           `env:"EMBED_BATCH_SIZE" validate:"gte=1,lte=256"`
	EmbedRateLimit   float64       `env:"EMBED_RATE_LIMIT" validate:"gte=0"`
	RedisURL         string        `env:"REDIS_URL"`
	EmbedCacheTTL    time.Duration `env:"EMBED_CACHE_TTL" validate:"gte=0"`

	ChunkSize     int    `env:"CHUNK_SIZE" validate:"gt=0"`
	ChunkOverlap  int    `env:"CHUNK_OVERLAP" validate:"gte=0,ltfield=ChunkSize"`
	ChunkStrategy string `env:"CHUNK_STRATEGY" validate:"oneof=sentence semantic recursive token character"`
	TokenEncoding string `env:"TOKEN_ENCODING"`
	QueryTopK     int    `env:"QUERY_TOP_K" validate:"gte=1,lte=100"`

	AwsAccessKey string `env:"AWS_ACCESS_KEY"`
	AwsSecretKey string `env:"AWS_SECRET_KEY"`
	AwsRegion    string `env:"AWS_REGION"`
	BucketName   string `env:"BUCKET_NAME"`

	Port           string   `env:"PORT" validate:"required,numeric"`
	IdentityHeader string   `env:"IDENTITY_HEADER" validate:"required"`
	JWTSecret      string   `env:"JWT_SECRET"`
	CORSOrigins    []string `env:"CORS_ORIGINS"`
	MCPOwnerID     string   `env:"MCP_OWNER_ID"`

	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"oneof=console json"`
}

// ArchiveEnabled reports whether raw uploads should be stored in S3.
func (c *Config) ArchiveEnabled() bool {
	return c.BucketName != "" && c.AwsAccessKey != "" && c.AwsSecretKey != ""
}

// LoadConfig loads .env (when present) and the process environment, then validates the result.
// A value that does not parse is reported, never replaced by its default.
func LoadConfig() (*Config, error) {
	cfg, parseErrs := load()
	if len(parseErrs) > 0 {
		return nil, parseErrs[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStoreConfig is LoadConfig for commands that only touch the database, such as migrations.
func LoadStoreConfig() (*Config, error) {
	cfg, parseErrs := load()
	for _, perr := range parseErrs {
		if slices.Contains(storeFields, fieldForKey(perr.Key)) {
			return nil, perr
		}
	}
	err := validator.New(validator.WithRequiredStructEnabled()).StructPartial(cfg, storeFields...)
	if err != nil {
		return nil, configError(err)
	}
	return cfg, nil
}

var storeFields = []string{"DatabaseURL", "StoreBackend", "DBTimeout", "DBMaxConns", "EmbedDim", "LogLevel", "LogFormat"}

// defaultEmbedDim is the native vector size of each provider's default model.
func defaultEmbedDim(provider string) int {
	if provider == "gemini" {
		return 768
	}
	return 1536
}

func load() (*Config, []*core.ConfigurationError) {
	_ = godotenv.Load()

	var env envReader
	provider := strings.ToLower(getEnv("EMBED_PROVIDER", "openai"))

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		DBTimeout:    env.duration("DB_TIMEOUT", 10*time.Second),
		DBMaxConns:   env.integer("DB_MAX_CONNS", 20),

		EmbedProvider:    provider,
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AzureEndpoint:    getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:      getEnv("AZURE_OPENAI_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:       getEnv("EMBED_MODEL", ""),
		EmbedDim:         env.integer("EMBED_DIM", defaultEmbedDim(provider)),
		EmbedTimeout:     env.duration("EMBED_TIMEOUT", 30*time.Second),
		EmbedMaxAttempts: env.integer("EMBED_MAX_ATTEMPTS", 3),
		EmbedBackoffBase: env.duration("EMBED_BACKOFF_BASE", 500*time.Millisecond),
		EmbedBatchSize:   env.integer("EMBED_BATCH_SIZE", 16),
		EmbedRateLimit:   env.number("EMBED_RATE_LIMIT", 0),
		RedisURL:         getEnv("REDIS_URL", ""),
		EmbedCacheTTL:    env.duration("EMBED_CACHE_TTL", 24*time.Hour),

		ChunkSize:     env.integer("CHUNK_SIZE", 1000),
		ChunkOverlap:  env.integer("CHUNK_OVERLAP", 200),
		ChunkStrategy: strings.ToLower(getEnv("CHUNK_STRATEGY", "character")),
		TokenEncoding: getEnv("TOKEN_ENCODING", "cl100k_base"),
		QueryTopK:     env.integer("QUERY_TOP_K", 5),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		Port:           getEnv("PORT", "8080"),
		IdentityHeader: getEnv("IDENTITY_HEADER", "X-Forwarded-User"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		CORSOrigins:    getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		MCPOwnerID:     getEnv("MCP_OWNER_ID", ""),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}
	return cfg, env.errs
}

// Validate checks field constraints and reports the first violation as a ConfigurationError.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return configError(err)
	}
	return nil
}

func configError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &core.ConfigurationError{Key: envKey(fe.StructField()), Reason: reason(fe)}
	}
	return &core.ConfigurationError{Key: "config", Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "ltfield":
		return "must be smaller than " + envKey(fe.Param())
	case "url":
		return "must be a URL"
	}
	if fe.Param() != "" {
		return "fails " + fe.Tag() + "=" + fe.Param()
	}
	return "fails " + fe.Tag()
}

// fieldForKey is the inverse of envKey.
func fieldForKey(key string) string {
	for i := 0; i < configType.NumField(); i++ {
		if f := configType.Field(i); f.Tag.Get("env") == key {
			return f.Name
		}
	}
	return key
}

// envKey maps a Config field name to its environment variable via the env struct tag.
func envKey(field string) string {
	if f, ok := configType.FieldByName(field); ok {
		if tag := f.Tag.Get("env"); tag != "" {
			return tag
		}
	}
	return field
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// envReader parses typed values and records every value that fails to parse.
type envReader struct {
	errs []*core.ConfigurationError
}

func (r *envReader) fail(key, reason string) {
	r.errs = append(r.errs, &core.ConfigurationError{Key: key, Reason: reason})
}

func (r *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "must be an integer")
		return def
	}
	return n
}

func (r *envReader) number(key string, def float64) float64 {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, "must be a number")
		return def
	}
	return f
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, "must be a duration such as 30s")
		return def
	}
	return d
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
