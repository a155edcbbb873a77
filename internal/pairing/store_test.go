package pairing

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	// Deterministic but distinct codes.
	counter := byte(0)
	s.rand = readerFunc(func(p []byte) (int, error) {
		counter++
		for i := range p {
			p[i] = counter
		}
		return len(p), nil
	})
	return s, &now
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestRequestAndApprove(t *testing.T) {
	s, _ := newTestStore(t)

	code, err := s.RequestCode("telegram", "user-42", "Ada")
	if err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if len(code.Code) != codeBytes*2 {
		t.Errorf("code %q: want %d hex chars", code.Code, codeBytes*2)
	}

	if ok, _ := s.Allowed("user-42"); ok {
		t.Fatal("sender allowed before approval")
	}

	approved, err := s.Approve(code.Code)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.SenderID != "user-42" {
		t.Errorf("approved sender = %s", approved.SenderID)
	}
	if ok, _ := s.Allowed("user-42"); !ok {
		t.Error("sender not allowed after approval")
	}

	// The code is single-use.
	if _, err := s.Approve(code.Code); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("second approval err = %v", err)
	}
}

func TestMultipleUnexpiredCodesAllWork(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.RequestCode("slack", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.RequestCode("slack", "u1", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.Code == second.Code {
		t.Fatal("codes collide")
	}

	// Approving via the first clears both.
	if _, err := s.Approve(first.Code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	pending, err := s.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after approval = %v", pending)
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	s, now := newTestStore(t)
	code, err := s.RequestCode("discord", "u9", "")
	if err != nil {
		t.Fatal(err)
	}
	*now = now.Add(CodeTTL + time.Minute)
	if _, err := s.Approve(code.Code); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("expired code err = %v", err)
	}
	pending, _ := s.Pending()
	if len(pending) != 0 {
		t.Errorf("expired code still pending: %v", pending)
	}
}

func TestDenyLeavesAllowlistUntouched(t *testing.T) {
	s, _ := newTestStore(t)
	code, err := s.RequestCode("matrix", "u3", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Deny(code.Code); err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if ok, _ := s.Allowed("u3"); ok {
		t.Error("denied sender ended up allowed")
	}
}

func TestAddSenderIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.AddSender("direct"); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.Allowlist()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0] != "direct" {
		t.Errorf("allowlist = %v", list)
	}
}

func TestFilesAreMode0600(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.AddSender("u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RequestCode("slack", "u2", ""); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{sendersFile, codesFile} {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("%s mode = %o, want 0600", name, perm)
		}
	}
}

func TestCorruptFileSurfacesError(t *testing.T) {
	s, _ := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.dir, sendersFile), bytes.Repeat([]byte("{"), 4), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Allowlist(); err == nil {
		t.Error("corrupt senders.json read without error")
	}
}
