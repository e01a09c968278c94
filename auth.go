package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
)

// Identity is the verified (userId, displayName) pair the core consumes
// per connection. The gateway never sees credentials.
type Identity struct {
	UserID      string
	DisplayName string
}

// TokenVerifier is what the gateway delegates identity verification to.
type TokenVerifier interface {
	VerifyToken(token string) (Identity, error)
}

// Auth is the credential collaborator: accounts, JWT issuance and
// verification. It lives outside the match core and only hands it
// verified identities.
type Auth struct {
	db        *DB
	jwtSecret []byte

	// Rate limiting for login attempts (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates the auth collaborator.
func NewAuth(db *DB) *Auth {
	return &Auth{
		db:        db,
		jwtSecret: loadOrCreateSecret(db),
		rateMap:   make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the JWT secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(db *DB) []byte {
	if db != nil {
		if h := db.GetSetting("jwt_secret"); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if db != nil {
		if err := db.SetSetting("jwt_secret", hex.EncodeToString(secret)); err != nil {
			log.Printf("warning: could not persist JWT secret: %v", err)
		}
	}
	return secret
}

// Register creates a new account and returns its id and a fresh token.
func (a *Auth) Register(username, password string) (Identity, string, error) {
	username = strings.TrimSpace(username)

	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return Identity{}, "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return Identity{}, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		return Identity{}, "", fmt.Errorf("database error")
	}
	if exists {
		return Identity{}, "", fmt.Errorf("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Identity{}, "", fmt.Errorf("internal error")
	}

	id := uuid.NewString()
	if err := a.db.CreateUser(id, username, username, string(hash)); err != nil {
		return Identity{}, "", fmt.Errorf("failed to create account")
	}

	ident := Identity{UserID: id, DisplayName: username}
	token, err := a.generateToken(ident)
	if err != nil {
		return Identity{}, "", fmt.Errorf("internal error")
	}
	return ident, token, nil
}

// Login authenticates a user and returns their identity and a JWT.
func (a *Auth) Login(username, password, ip string) (Identity, string, error) {
	if !a.checkRate(ip) {
		return Identity{}, "", fmt.Errorf("too many login attempts, try again later")
	}

	user, err := a.db.GetUserByUsername(username)
	if err != nil {
		return Identity{}, "", fmt.Errorf("database error")
	}
	if user == nil || user.PassHash == "" {
		return Identity{}, "", fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PassHash), []byte(password)); err != nil {
		return Identity{}, "", fmt.Errorf("invalid username or password")
	}

	ident := Identity{UserID: user.ID, DisplayName: user.DisplayName}
	token, err := a.generateToken(ident)
	if err != nil {
		return Identity{}, "", fmt.Errorf("internal error")
	}
	return ident, token, nil
}

// VerifyToken validates a JWT and returns the identity it carries.
func (a *Auth) VerifyToken(tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	name, ok := claims["name"].(string)
	if !ok || name == "" {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	return Identity{UserID: sub, DisplayName: name}, nil
}

func (a *Auth) generateToken(ident Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":  ident.UserID,
		"name": ident.DisplayName,
		"exp":  time.Now().Add(jwtExpiry).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
