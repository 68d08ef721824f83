// Package auth carries the browse session cookie: a signed, encrypted
// session ID whose values live server-side in Redis.
//
// Session keys should be 32 or 64 bytes for HMAC authentication,
// and 16, 24, or 32 bytes for AES encryption. Production deployments
// must use cryptographically random keys generated with:
//
//	openssl rand -base64 32
package auth

import (
	"context"
	"encoding/base32"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "pokedex:session:"

// DefaultSessionMaxAge applies when NewSessionStore is given a non-positive maxAge.
const DefaultSessionMaxAge = 7 * 24 * time.Hour

// RedisStore is a sessions.Store backed by Redis hashes.
// Only an encrypted session ID travels in the client cookie (HttpOnly,
// Secure in production, SameSite Lax).
//
// Redis keys: "pokedex:session:<id>", one hash field per session value.
// Values must be strings keyed by strings. Every successful load slides the
// key's TTL, matching the idle expiry of the browse session it points at.
type RedisStore struct {
	client  *redis.Client
	codecs  []securecookie.Codec
	options *sessions.Options
}

// NewSessionStore creates a Redis-backed session store.
//
// Parameters:
//   - client: redis.Client instance (from pkg/cache.RedisClient.Client())
//   - authKey: 32 or 64 bytes for HMAC authentication (verifies cookie integrity)
//   - encryptionKey: 16, 24, or 32 bytes for AES encryption (encrypts session ID cookie)
//   - secureCookie: set true in production (HTTPS only); false for localhost dev
//   - maxAge: cookie and key lifetime, normally cfg.BrowseSessionTTL
func NewSessionStore(client *redis.Client, authKey, encryptionKey []byte, secureCookie bool, maxAge time.Duration) *RedisStore {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return &RedisStore{
		client: client,
		codecs: securecookie.CodecsFromPairs(authKey, encryptionKey),
		options: &sessions.Options{
			Path:     "/",
			MaxAge:   int(maxAge.Seconds()),
			HttpOnly: true,
			Secure:   secureCookie,
			SameSite: http.SameSiteLaxMode,
		},
	}
}

// Get returns a session for the given name, loading from Redis if a valid
// session cookie exists.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New creates a session. If a valid cookie exists, it decodes the session ID
// and loads data from Redis. A missing/expired/invalid cookie yields a fresh session.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.codecs...); err != nil {
		return session, nil
	}

	session.ID = id
	if err := s.load(r.Context(), session); err != nil {
		return session, nil
	}
	session.IsNew = false
	return session, nil
}

// Save persists the session to Redis and writes the encrypted session cookie.
// If MaxAge < 0 or no values remain, the Redis key is deleted and the cookie
// expired.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 || len(session.Values) == 0 {
		if session.ID != "" {
			if err := s.client.Del(r.Context(), sessionKeyPrefix+session.ID).Err(); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		expired := *session.Options
		expired.MaxAge = -1
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", &expired))
		return nil
	}

	if session.ID == "" {
		session.ID = strings.TrimRight(
			base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)),
			"=",
		)
	}

	if err := s.save(r.Context(), session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *RedisStore) save(ctx context.Context, session *sessions.Session) error {
	fields, err := encodeValues(session.Values)
	if err != nil {
		return err
	}
	key := sessionKeyPrefix + session.ID
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set session in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, session *sessions.Session) error {
	key := sessionKeyPrefix + session.ID
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("get session from redis: %w", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("get session from redis: %w", redis.Nil)
	}
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("refresh session ttl: %w", err)
	}
	session.Values = decodeValues(fields)
	return nil
}

// encodeValues flattens session values into hash fields.
func encodeValues(values map[any]any) (map[string]string, error) {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		ks, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("session key %v: only string keys are supported", k)
		}
		vs, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("session value %q: only string values are supported", ks)
		}
		fields[ks] = vs
	}
	return fields, nil
}

func decodeValues(fields map[string]string) map[any]any {
	values := make(map[any]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	return values
}
