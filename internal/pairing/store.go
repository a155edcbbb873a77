// Package pairing authorizes inbound senders: an allowlist on disk plus
// single-use, time-limited pairing codes approved out-of-band.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// CodeTTL is how long a pairing code stays redeemable.
	CodeTTL = time.Hour

	// codeBytes yields 16 hex characters per code.
	codeBytes = 8

	sendersFile = "senders.json"
	codesFile   = "pairing-codes.json"
)

// ErrCodeNotFound covers unknown and expired codes alike.
var ErrCodeNotFound = errors.New("pairing code not found or expired")

// Code is one pending pairing request. A sender may hold several unexpired
// codes; any of them redeems, and approval clears them all.
type Code struct {
	Code        string `json:"code"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name,omitempty"`
	Channel     string `json:"channel,omitempty"`
	RequestedAt int64  `json:"requested_at"` // unix milliseconds
	ExpiresAt   int64  `json:"expires_at"`
}

// Store persists the allowlist and pending codes under the data directory,
// files 0600 in a 0700 directory. One lock covers every mutation.
type Store struct {
	dir  string
	mu   sync.Mutex
	now  func() time.Time
	rand io.Reader
}

// NewStore anchors a store at dir, creating it as needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create pairing dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now, rand: rand.Reader}, nil
}

// Allowed reports whether senderID is on the allowlist.
func (s *Store) Allowed(senderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	senders, err := s.loadSenders()
	if err != nil {
		return false, err
	}
	for _, id := range senders {
		if id == senderID {
			return true, nil
		}
	}
	return false, nil
}

// Allowlist returns the approved sender ids, sorted.
func (s *Store) Allowlist() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSenders()
}

// AddSender appends senderID to the allowlist (idempotent).
func (s *Store) AddSender(senderID string) error {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return errors.New("sender id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addSenderLocked(senderID)
}

// RequestCode mints a fresh pairing code for the sender. Earlier unexpired
// codes for the same sender remain valid.
func (s *Store) RequestCode(channel, senderID, senderName string) (Code, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return Code{}, errors.New("sender id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	codes, err := s.loadCodes()
	if err != nil {
		return Code{}, err
	}

	buf := make([]byte, codeBytes)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return Code{}, fmt.Errorf("generate pairing code: %w", err)
	}
	now := s.now()
	code := Code{
		Code:        hex.EncodeToString(buf),
		SenderID:    senderID,
		SenderName:  strings.TrimSpace(senderName),
		Channel:     channel,
		RequestedAt: now.UnixMilli(),
		ExpiresAt:   now.Add(CodeTTL).UnixMilli(),
	}
	codes = append(codes, code)
	if err := s.saveCodes(codes); err != nil {
		return Code{}, err
	}
	return code, nil
}

// Pending returns the unexpired codes, oldest first.
func (s *Store) Pending() ([]Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes, err := s.loadCodes()
	if err != nil {
		return nil, err
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].RequestedAt < codes[j].RequestedAt })
	return codes, nil
}

// Approve redeems a code: the sender joins the allowlist and every code
// that sender holds is removed.
func (s *Store) Approve(code string) (Code, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Code{}, ErrCodeNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	codes, err := s.loadCodes()
	if err != nil {
		return Code{}, err
	}
	var matched *Code
	for i := range codes {
		if codes[i].Code == code {
			matched = &codes[i]
			break
		}
	}
	if matched == nil {
		return Code{}, ErrCodeNotFound
	}

	if err := s.addSenderLocked(matched.SenderID); err != nil {
		return Code{}, err
	}
	approved := *matched
	remaining := codes[:0]
	for _, c := range codes {
		if c.SenderID != approved.SenderID {
			remaining = append(remaining, c)
		}
	}
	if err := s.saveCodes(remaining); err != nil {
		return Code{}, err
	}
	return approved, nil
}

// Deny removes one code without touching the allowlist.
func (s *Store) Deny(code string) (Code, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	s.mu.Lock()
	defer s.mu.Unlock()
	codes, err := s.loadCodes()
	if err != nil {
		return Code{}, err
	}
	for i, c := range codes {
		if c.Code == code {
			denied := c
			codes = append(codes[:i], codes[i+1:]...)
			if err := s.saveCodes(codes); err != nil {
				return Code{}, err
			}
			return denied, nil
		}
	}
	return Code{}, ErrCodeNotFound
}

func (s *Store) addSenderLocked(senderID string) error {
	senders, err := s.loadSenders()
	if err != nil {
		return err
	}
	for _, id := range senders {
		if id == senderID {
			return nil
		}
	}
	senders = append(senders, senderID)
	sort.Strings(senders)
	return s.writeJSON(filepath.Join(s.dir, sendersFile), senders)
}

func (s *Store) loadSenders() ([]string, error) {
	var senders []string
	if err := s.readJSON(filepath.Join(s.dir, sendersFile), &senders); err != nil {
		return nil, err
	}
	sort.Strings(senders)
	return senders, nil
}

// loadCodes reads the pending codes, dropping expired entries.
func (s *Store) loadCodes() ([]Code, error) {
	var codes []Code
	if err := s.readJSON(filepath.Join(s.dir, codesFile), &codes); err != nil {
		return nil, err
	}
	cutoff := s.now().UnixMilli()
	live := codes[:0]
	for _, c := range codes {
		if c.Code != "" && c.SenderID != "" && c.ExpiresAt > cutoff {
			live = append(live, c)
		}
	}
	return live, nil
}

func (s *Store) saveCodes(codes []Code) error {
	return s.writeJSON(filepath.Join(s.dir, codesFile), codes)
}

func (s *Store) readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// writeJSON writes atomically: temp file in the same directory, then rename.
func (s *Store) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".pairing-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
