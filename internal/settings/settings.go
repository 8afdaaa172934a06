package settings

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strconv"
	"sync"
	"time"
)

// Service manages application settings stored in the database
type Service struct {
	db      *sql.DB
	cache   map[string]string
	cacheMu sync.RWMutex
}

// New creates a new settings service
func New(db *sql.DB) *Service {
	return &Service{
		db:    db,
		cache: make(map[string]string),
	}
}

// Get retrieves a setting value
func (s *Service) Get(key string) (string, error) {
	s.cacheMu.RLock()
	if val, ok := s.cache[key]; ok {
		s.cacheMu.RUnlock()
		return val, nil
	}
	s.cacheMu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return value, nil
}

// GetWithDefault retrieves a setting value with a default fallback
func (s *Service) GetWithDefault(key, defaultValue string) string {
	val, err := s.Get(key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val
}

// GetInt retrieves a setting as an integer
func (s *Service) GetInt(key string, defaultValue int) int {
	val, err := s.Get(key)
	if err != nil || val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// GetBool retrieves a setting as a boolean
func (s *Service) GetBool(key string, defaultValue bool) bool {
	val, err := s.Get(key)
	if err != nil || val == "" {
		return defaultValue
	}
	return val == "true" || val == "1" || val == "yes"
}

// Set stores a setting value
func (s *Service) Set(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, now,
	)
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[key] = value
	s.cacheMu.Unlock()

	return nil
}

// SetMany stores multiple settings at once
func (s *Service) SetMany(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for key, value := range values {
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)",
			key, value, now,
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.cacheMu.Lock()
	for key, value := range values {
		s.cache[key] = value
	}
	s.cacheMu.Unlock()

	return nil
}

// GenerateSecretKey creates a random key for session HMAC fallback
func GenerateSecretKey() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
