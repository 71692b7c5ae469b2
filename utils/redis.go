package utils

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hospital/models"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// OpenRedisPool initializes a Redis connection pool
func OpenRedisPool(ctx context.Context, dsn string) (*redis.Client, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis DSN: %w", err)
	}

	// Configure connection pooling
	opt.PoolSize = 100                    // Maximum number of connections in the pool
	opt.MinIdleConns = 2                  // Minimum number of idle connections
	opt.DialTimeout = 5 * time.Second     // Timeout for new connections
	opt.ConnMaxIdleTime = 5 * time.Minute // Close idle connections after this duration

	client := redis.NewClient(opt)
	if err = client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// SessionStore keeps server-side sessions as redis hashes with a sliding TTL.
// One instance is shared by every handler.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

func sessionKey(token string) string {
	return "session:" + token
}

func userSessionsKey(userID int64) string {
	return "user_sessions:" + strconv.FormatInt(userID, 10)
}

// Create stores a new session with fresh session and CSRF tokens.
func (s *SessionStore) Create(ctx context.Context, session models.Session) (*models.Session, error) {
	sessionToken, err := GenerateToken(32)
	if err != nil {
		return nil, err
	}
	if session.CSRFToken == "" {
		if session.CSRFToken, err = GenerateToken(32); err != nil {
			return nil, err
		}
	}

	now := s.now()
	session.SessionToken = sessionToken
	session.CreatedAt = now.Format(time.RFC3339)
	session.LastActivity = now.Format(time.RFC3339)
	session.ExpiresAt = now.Add(s.ttl).Format(time.RFC3339)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(sessionToken)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"user_id":       session.UserID,
			"username":      session.Username,
			"logged_in":     session.LoggedIn,
			"created_at":    session.CreatedAt,
			"expires_at":    session.ExpiresAt,
			"last_activity": session.LastActivity,
			"csrf_token":    session.CSRFToken,
			"user_agent":    session.UserAgent,
			"ip_address":    session.IPAddress,
		})
		pipe.Expire(ctx, key, s.ttl)
		if session.UserID != 0 {
			// Add to the user's session index
			pipe.SAdd(ctx, userSessionsKey(session.UserID), key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return &session, nil
}

// touchSession slides an existing session and returns its fields in one step. A key
// that is gone, or expires concurrently, is never recreated.
var touchSession = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return {}
end
redis.call("HSET", KEYS[1], "last_activity", ARGV[1], "expires_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return redis.call("HGETALL", KEYS[1])
`)

// Get loads a session and slides its expiry forward.
func (s *SessionStore) Get(ctx context.Context, sessionToken string) (*models.Session, error) {
	if sessionToken == "" {
		return nil, ErrSessionNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := s.now()
	lastActivity := now.Format(time.RFC3339)
	expiresAt := now.Add(s.ttl).Format(time.RFC3339)
	fields, err := touchSession.Run(ctx, s.client, []string{sessionKey(sessionToken)},
		lastActivity, expiresAt, s.ttl.Milliseconds()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	data := make(map[string]string, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		data[fields[i]] = fields[i+1]
	}

	userID, _ := strconv.ParseInt(data["user_id"], 10, 64)
	loggedIn, _ := strconv.ParseBool(data["logged_in"])
	return &models.Session{
		SessionToken: sessionToken,
		UserID:       userID,
		Username:     data["username"],
		LoggedIn:     loggedIn,
		CreatedAt:    data["created_at"],
		ExpiresAt:    expiresAt,
		LastActivity: lastActivity,
		CSRFToken:    data["csrf_token"],
		UserAgent:    data["user_agent"],
		IPAddress:    data["ip_address"],
	}, nil
}

// Rotate replaces the session token, keeping the CSRF token, and applies update to
// the copy before it is stored. The old session is removed.
func (s *SessionStore) Rotate(ctx context.Context, old *models.Session, update models.Session) (*models.Session, error) {
	if old != nil && update.CSRFToken == "" {
		update.CSRFToken = old.CSRFToken
	}
	next, err := s.Create(ctx, update)
	if err != nil {
		return nil, err
	}
	if old != nil && old.SessionToken != "" {
		if err := s.Delete(ctx, old.SessionToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}
	return next, nil
}

// Delete removes a single session and its reference in the user index
func (s *SessionStore) Delete(ctx context.Context, sessionToken string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionKey(sessionToken)
	userID, err := s.client.HGet(ctx, key, "user_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, "user_sessions:"+userID, key)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

// DeleteAllForUser removes all sessions associated with a specific user
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	indexKey := userSessionsKey(userID)
	sessionKeys, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return err
	}

	if len(sessionKeys) > 0 {
		if err := s.client.Del(ctx, sessionKeys...).Err(); err != nil {
			return err
		}
	}

	// Clean up the index itself
	return s.client.Del(ctx, indexKey).Err()
}

// CheckCSRF compares the submitted token with the one bound to the session.
func CheckCSRF(session *models.Session, submitted string) bool {
	if session == nil || session.CSRFToken == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(session.CSRFToken), []byte(submitted)) == 1
}
