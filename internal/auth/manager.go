// Package auth は運用者向け API（クリーンアップ・診断）のログインと保護を提供します。
// ジョブの投入・参照は匿名で使えるため、ここでは扱いません。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/web2pdf/internal/logging"
)

const (
	SessionCookieName    = "w2p_session"
	sessionKeyUser       = "operator"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

// ContextUserKey は、ハンドラー間でログイン済み運用者名を共有するためのキーです。
const ContextUserKey = "auth.operator"

// Policy はセッションとログイン試行の制限値です。
type Policy struct {
	MaxSessionLifetime time.Duration
	IdleTimeout        time.Duration
	LoginWindow        time.Duration
	LockDuration       time.Duration
	MaxLoginAttempts   int
}

// DefaultPolicy は既定の制限値です。
var DefaultPolicy = Policy{
	MaxSessionLifetime: 12 * time.Hour,
	IdleTimeout:        30 * time.Minute,
	LoginWindow:        15 * time.Minute,
	LockDuration:       10 * time.Minute,
	MaxLoginAttempts:   5,
}

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(DefaultPolicy.MaxSessionLifetime.Seconds())
}

// Credentials は運用者のログイン情報です。
type Credentials struct {
	Username     string
	PasswordHash string // bcrypt
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager は運用者の認証処理と IP ごとの試行状態をまとめた構造体です。
type Manager struct {
	creds  Credentials
	policy Policy
	logger *zap.Logger
	now    func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。
func NewManager(creds Credentials, logger *zap.Logger) *Manager {
	return &Manager{
		creds:    creds,
		policy:   DefaultPolicy,
		logger:   logging.OrNop(logger),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

// Enabled は運用者ログインが設定済みかどうかを返します。
func (m *Manager) Enabled() bool {
	return m.ensureCredentials() == nil
}

func (m *Manager) ensureCredentials() error {
	if m.creds.Username == "" {
		return errors.New("ADMIN_USERNAME が設定されていません")
	}
	if m.creds.PasswordHash == "" {
		return errors.New("ADMIN_PASSWORD_HASH が設定されていません")
	}
	return nil
}

func (m *Manager) verify(username, password string) bool {
	if username != m.creds.Username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)) == nil
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// recordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > m.policy.LoginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= m.policy.MaxLoginAttempts {
		state.lockedUntil = now.Add(m.policy.LockDuration)
		state.count = m.policy.MaxLoginAttempts
		m.logger.Warn("operator login locked", zap.String("ip", ip), zap.Duration("for", m.policy.LockDuration))
	}

	return max(m.policy.MaxLoginAttempts-state.count, 0)
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
