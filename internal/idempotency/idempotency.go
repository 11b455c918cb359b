// Package idempotency makes retried mutating HTTP calls safe: the first
// request carrying an Idempotency-Key runs, later ones replay its response.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/logger"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"

	defaultLockTTL = 30 * time.Second
)

// Response is a cached handler result.
type Response struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

type Store struct {
	Client  *redis.Client
	TTL     time.Duration
	LockTTL time.Duration
	Logger  *logger.Logger
}

func NewStore(client *redis.Client, ttl time.Duration, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{Client: client, TTL: ttl, LockTTL: defaultLockTTL, Logger: log}
}

func lockKey(key string) string     { return "idem_lock:" + key }
func responseKey(key string) string { return "idem_resp:" + key }

// Lock claims key for owner while its request executes.
func (s *Store) Lock(ctx context.Context, key, owner string) (bool, error) {
	return s.Client.SetNX(ctx, lockKey(key), owner, s.LockTTL).Result()
}

// Unlock releases key if owner still holds it.
func (s *Store) Unlock(ctx context.Context, key, owner string) error {
	val, err := s.Client.Get(ctx, lockKey(key)).Result()
	if err == redis.Nil {
		return nil // expired
	}
	if err != nil {
		return err
	}
	if val != owner {
		return nil
	}
	return s.Client.Del(ctx, lockKey(key)).Err()
}

// Load returns the cached response for key.
func (s *Store) Load(ctx context.Context, key string) (*Response, error) {
	raw, err := s.Client.Get(ctx, responseKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

func (s *Store) Save(ctx context.Context, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, responseKey(key), raw, s.TTL).Err()
}

// Middleware applies idempotency to mutating requests that carry the header.
// Keys are scoped to the authenticated account when there is one.
func (s *Store) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderKey)
		if raw == "" || !mutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		key := raw
		if account, ok := auth.Account(r.Context()); ok {
			key = account.Hex() + ":" + raw
		}
		fingerprint, err := fingerprintOf(r)
		if err != nil {
			http.Error(w, "could not read request body", http.StatusBadRequest)
			return
		}
		ctx := r.Context()

		cached, err := s.Load(ctx, key)
		if err != nil {
			s.Logger.Error("IDEMPOTENCY", fmt.Sprintf("load %s: %v", raw, err))
			http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		}
		if cached != nil {
			replay(w, cached, fingerprint)
			return
		}

		owner := uuid.NewString()
		locked, err := s.Lock(ctx, key, owner)
		if err != nil {
			s.Logger.Error("IDEMPOTENCY", fmt.Sprintf("lock %s: %v", raw, err))
			http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		}
		if !locked {
			http.Error(w, "a request with this Idempotency-Key is in progress", http.StatusConflict)
			return
		}
		defer func() {
			if err := s.Unlock(context.Background(), key, owner); err != nil {
				s.Logger.Warn("IDEMPOTENCY", fmt.Sprintf("unlock %s: %v", raw, err))
			}
		}()

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Server errors may be transient and stay retryable.
		if rec.status >= http.StatusInternalServerError {
			return
		}
		resp := Response{
			Fingerprint: fingerprint,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		}
		if err := s.Save(context.Background(), key, resp); err != nil {
			s.Logger.Warn("IDEMPOTENCY", fmt.Sprintf("save %s: %v", raw, err))
		}
	})
}

// fingerprintOf identifies a request by method, path and body digest. The
// body is buffered and put back for the handler.
func fingerprintOf(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return "", err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	sum := sha256.Sum256(body)
	return r.Method + " " + r.URL.Path + " " + hex.EncodeToString(sum[:]), nil
}

func replay(w http.ResponseWriter, cached *Response, fingerprint string) {
	if cached.Fingerprint != fingerprint {
		http.Error(w, "Idempotency-Key was used for a different request", http.StatusUnprocessableEntity)
		return
	}
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(cached.Status)
	w.Write(cached.Body)
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
