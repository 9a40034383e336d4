package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// VectorCache stores embeddings by model and text. Misses and cache failures are
// indistinguishable to the caller.
type VectorCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vec []float32)
}

// RedisCache keeps vectors as little-endian float32 blobs under "embed:" + sha256(model|text).
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (r *RedisCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	b, err := r.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Msg("embedding cache read failed")
		}
		return nil, false
	}
	vec, ok := decodeVector(b)
	return vec, ok
}

func (r *RedisCache) Set(ctx context.Context, model, text string, vec []float32) {
	if err := r.client.Set(ctx, cacheKey(model, text), encodeVector(vec), r.ttl).Err(); err != nil {
		log.Debug().Err(err).Msg("embedding cache write failed")
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "|" + text))
	return "embed:" + hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return vec, true
}
