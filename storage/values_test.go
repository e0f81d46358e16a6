package storage

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGetImmutableValue(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	v := types.NewImmutableValue([]byte("hello"))
	if err := s.PutValue(v, nil, false, now); err != nil {
		t.Fatalf("PutValue: %v", err)
	}

	got, err := s.GetValue(v.ID())
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored value")
	}
	if string(got.Data) != "hello" {
		t.Fatalf("unexpected payload: %q", got.Data)
	}
}

func TestPutValueRejectsInvalidValue(t *testing.T) {
	s := openTestStore(t)
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := &types.Value{PublicKey: pub, Data: []byte("x")} // no signature
	if err := s.PutValue(v, nil, false, time.Now()); err != ErrInvalidValue {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestPutValueEnforcesMonotonicSequence(t *testing.T) {
	s := openTestStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var nonce [24]byte
	v1, err := types.NewSignedValue(pub, priv.Seed(), nonce, 1, []byte("v1"))
	if err != nil {
		t.Fatalf("NewSignedValue: %v", err)
	}
	if err := s.PutValue(v1, nil, false, time.Now()); err != nil {
		t.Fatalf("PutValue v1: %v", err)
	}

	stale, err := types.NewSignedValue(pub, priv.Seed(), nonce, 1, []byte("v1-again"))
	if err != nil {
		t.Fatalf("NewSignedValue: %v", err)
	}
	if err := s.PutValue(stale, nil, false, time.Now()); err != ErrStaleSequence {
		t.Fatalf("expected ErrStaleSequence, got %v", err)
	}

	v2, err := v1.Update([]byte("v2"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.PutValue(v2, nil, false, time.Now()); err != nil {
		t.Fatalf("PutValue v2: %v", err)
	}

	got, err := s.GetValue(v1.ID())
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if string(got.Data) != "v2" {
		t.Fatalf("expected the newer value to win, got %q", got.Data)
	}
}

func TestPutValueHonorsCompareAndSwap(t *testing.T) {
	s := openTestStore(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var nonce [24]byte
	v1, err := types.NewSignedValue(pub, priv.Seed(), nonce, 1, []byte("v1"))
	if err != nil {
		t.Fatalf("NewSignedValue: %v", err)
	}
	if err := s.PutValue(v1, nil, false, time.Now()); err != nil {
		t.Fatalf("PutValue v1: %v", err)
	}

	v2, err := v1.Update([]byte("v2"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	wrongCas := int64(99)
	if err := s.PutValue(v2, &wrongCas, false, time.Now()); err != ErrCASMismatch {
		t.Fatalf("expected ErrCASMismatch, got %v", err)
	}

	rightCas := int64(1)
	if err := s.PutValue(v2, &rightCas, false, time.Now()); err != nil {
		t.Fatalf("PutValue v2 with correct cas: %v", err)
	}
}

func TestRemoveValue(t *testing.T) {
	s := openTestStore(t)
	v := types.NewImmutableValue([]byte("gone soon"))
	if err := s.PutValue(v, nil, false, time.Now()); err != nil {
		t.Fatalf("PutValue: %v", err)
	}
	if err := s.RemoveValue(v.ID()); err != nil {
		t.Fatalf("RemoveValue: %v", err)
	}
	got, err := s.GetValue(v.ID())
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != nil {
		t.Fatal("expected the value to be gone")
	}
}

func TestGetValueMissingReturnsNilNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetValue(id.Zero)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if got != nil {
		t.Fatal("expected no value for an id never stored")
	}
}

func TestGetPersistentValuesFiltersByAge(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	persistent := types.NewImmutableValue([]byte("keep announcing"))
	if err := s.PutValue(persistent, nil, true, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("PutValue persistent: %v", err)
	}
	fresh := types.NewImmutableValue([]byte("just announced"))
	if err := s.PutValue(fresh, nil, true, now); err != nil {
		t.Fatalf("PutValue fresh: %v", err)
	}
	transient := types.NewImmutableValue([]byte("not persistent"))
	if err := s.PutValue(transient, nil, false, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("PutValue transient: %v", err)
	}

	due, err := s.GetPersistentValues(now.Add(-5 * time.Minute))
	if err != nil {
		t.Fatalf("GetPersistentValues: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected exactly 1 value due for re-announce, got %d", len(due))
	}
	if due[0].ID != persistent.ID() {
		t.Fatal("unexpected value selected for re-announce")
	}
}

func TestPurgeExpiredValuesLeavesPersistentAlone(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	old := types.NewImmutableValue([]byte("old and transient"))
	if err := s.PutValue(old, nil, false, now.Add(-(MaxValueAge + time.Minute))); err != nil {
		t.Fatalf("PutValue old: %v", err)
	}
	oldPersistent := types.NewImmutableValue([]byte("old but persistent"))
	if err := s.PutValue(oldPersistent, nil, true, now.Add(-(MaxValueAge + time.Minute))); err != nil {
		t.Fatalf("PutValue old persistent: %v", err)
	}

	n, err := s.PurgeExpiredValues(now)
	if err != nil {
		t.Fatalf("PurgeExpiredValues: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 purged value, got %d", n)
	}

	if got, _ := s.GetValue(old.ID()); got != nil {
		t.Fatal("expired transient value should have been purged")
	}
	if got, _ := s.GetValue(oldPersistent.ID()); got == nil {
		t.Fatal("persistent value should survive purge regardless of age")
	}
}
