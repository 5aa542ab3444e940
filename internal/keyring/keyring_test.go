package keyring

import (
	"bytes"
	"errors"
	"testing"

	zkr "github.com/zalando/go-keyring"
)

func TestKeyringRoundTrip(t *testing.T) {
	zkr.MockInit()
	kr := New("")
	if kr.Service() != DefaultService {
		t.Errorf("service = %q", kr.Service())
	}

	if _, err := kr.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing account err = %v", err)
	}
	if err := kr.Set("a", "secret"); err != nil {
		t.Fatal(err)
	}
	if v, err := kr.Get("a"); err != nil || v != "secret" {
		t.Errorf("get = %q, %v", v, err)
	}
	if err := kr.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if err := kr.Delete("a"); err != nil {
		t.Errorf("second delete = %v", err)
	}

	key := []byte{1, 2, 3, 4}
	if err := kr.SetKey(key); err != nil {
		t.Fatal(err)
	}
	if got, err := kr.Key(); err != nil || !bytes.Equal(got, key) {
		t.Errorf("key = %x, %v", got, err)
	}
}

func TestAvailableHonorsOptOut(t *testing.T) {
	zkr.MockInit()
	if !Available() {
		t.Error("mock keychain should be available")
	}
	t.Setenv("PAGERELAY_KEYRING_DISABLED", "1")
	if Available() {
		t.Error("opt-out ignored")
	}
}
