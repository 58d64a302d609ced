package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader  = "Idempotency-Key"
	idempotencyReplayHdr  = "Idempotent-Replayed"
	idempotencyPrefix     = "idempotency:v2:"
	inProgressMarker      = "__in_progress__"
	maxIdempotencyKeyLen  = 255
	idempotencyRedisLimit = 2 * time.Second
)

type storedResponse struct {
	Status    int               `json:"status"`
	Body      string            `json:"body"`
	Headers   map[string]string `json:"headers"`
	RequestID string            `json:"request_id,omitempty"`
}

// Idempotency enforces idempotent semantics across unsafe HTTP methods by
// persisting responses in Redis keyed by the provided Idempotency-Key header.
// Keys are scoped to the method and path, so retrying a send never replays
// the response of an earlier print that reused the same key.
//
// A request that ends in 504 keeps its key reserved until the TTL expires:
// the federation may still accept the transaction, and a retry under the
// same key must not submit a second one.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	logger = logger.With(slog.String("component", "idempotency"))

	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		switch method {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		if len(key) > maxIdempotencyKeyLen {
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}

		entry := idempotencyEntry{
			cache:  cache,
			key:    idempotencyPrefix + method + ":" + c.Path() + ":" + key,
			ttl:    ttl,
			logger: logger.With(slog.String("idempotency_key", key), slog.String("request_id", RequestIDFrom(c))),
		}

		reserved, err := entry.reserve()
		if err != nil {
			return err
		}
		if !reserved {
			return entry.replay(c)
		}

		if err := c.Next(); err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) && fe.Code == fiber.StatusGatewayTimeout {
				entry.logger.Warn("idempotency_key_held", slog.String("reason", fe.Message))
				return err
			}
			entry.release()
			return err
		}
		return entry.save(c)
	}
}

type idempotencyEntry struct {
	cache  *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// reserve claims the key. It reports false when another request already owns
// it, in flight or finished.
func (e idempotencyEntry) reserve() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyRedisLimit)
	defer cancel()

	ok, err := e.cache.SetNX(ctx, e.key, inProgressMarker, e.ttl).Result()
	if err != nil {
		e.logger.Error("idempotency_reservation_failed", slog.Any("error", err))
		return false, fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
	}
	return ok, nil
}

func (e idempotencyEntry) replay(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyRedisLimit)
	defer cancel()

	cached, err := e.cache.Get(ctx, e.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Released between our reservation attempt and this read.
		return fiber.NewError(fiber.StatusConflict, "duplicate request, retry")
	case err != nil:
		e.logger.Error("idempotency_lookup_failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
	case cached == inProgressMarker:
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		e.logger.Warn("idempotency_decode_failed", slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}

	for header, value := range stored.Headers {
		if strings.EqualFold(header, fiber.HeaderContentLength) || strings.EqualFold(header, requestIDHeader) {
			continue
		}
		c.Set(header, value)
	}
	c.Set(idempotencyReplayHdr, "true")
	e.logger.Info("idempotency_replayed", slog.String("original_request_id", stored.RequestID))
	return c.Status(stored.Status).SendString(stored.Body)
}

func (e idempotencyEntry) save(c *fiber.Ctx) error {
	stored := storedResponse{
		Status:    c.Response().StatusCode(),
		Body:      string(c.Response().Body()),
		Headers:   map[string]string{},
		RequestID: RequestIDFrom(c),
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		stored.Headers[string(k)] = string(v)
	})

	payload, err := json.Marshal(stored)
	if err != nil {
		e.logger.Error("idempotency_encode_failed", slog.Any("error", err))
		e.release()
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
	}

	ctx, cancel := context.WithTimeout(context.Background(), idempotencyRedisLimit)
	defer cancel()
	if err := e.cache.Set(ctx, e.key, payload, e.ttl).Err(); err != nil {
		e.logger.Error("idempotency_persist_failed", slog.Any("error", err))
		e.release()
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency persistence failure")
	}
	return nil
}

// release frees the key so the request can be retried. Best effort.
func (e idempotencyEntry) release() {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyRedisLimit)
	defer cancel()
	if err := e.cache.Del(ctx, e.key).Err(); err != nil {
		e.logger.Warn("idempotency_release_failed", slog.Any("error", err))
	}
}
