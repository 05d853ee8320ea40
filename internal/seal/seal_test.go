package seal

import (
	"bytes"
	"errors"
	"testing"
)

func TestSealOpen_roundTrip(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}

	box, err := Seal(key, []byte("candidate-42"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(box, []byte("candidate-42")) {
		t.Error("sealed ballot leaks plaintext")
	}

	got, err := Open(key, box)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "candidate-42" {
		t.Errorf("round trip: got %q", got)
	}
}

func TestSeal_noncesNeverRepeat(t *testing.T) {
	key, _ := NewKey()
	a, _ := Seal(key, []byte("x"))
	b, _ := Seal(key, []byte("x"))
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext produced identical boxes")
	}
}

func TestOpen_wrongKeyFails(t *testing.T) {
	key1, _ := NewKey()
	key2, _ := NewKey()

	box, _ := Seal(key1, []byte("candidate-42"))
	if _, err := Open(key2, box); err == nil {
		t.Error("Open() succeeded with the wrong key")
	}
}

func TestOpen_tamperedBoxFails(t *testing.T) {
	key, _ := NewKey()
	box, _ := Seal(key, []byte("candidate-42"))
	box[len(box)-1] ^= 0xff

	if _, err := Open(key, box); err == nil {
		t.Error("Open() succeeded on a tampered box")
	}
}

func TestOpen_truncatedBox(t *testing.T) {
	key, _ := NewKey()
	if _, err := Open(key, []byte("short")); err == nil {
		t.Error("Open() succeeded on a box shorter than the nonce")
	}
}

func TestKeySize_enforced(t *testing.T) {
	if _, err := Seal(make([]byte, 16), []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("16-byte key: got %v, want ErrInvalidKey", err)
	}
	if _, err := Open(make([]byte, 31), []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("31-byte key: got %v, want ErrInvalidKey", err)
	}
}

func TestNewKey_length(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(key) != KeySize {
		t.Errorf("key length: got %d, want %d", len(key), KeySize)
	}
}
