package partkey

import (
	"bytes"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
)

func testSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		t.Fatal(err)
	}
	return secret
}

func TestDerive_Deterministic(t *testing.T) {
	secret := testSecret(t)

	for page := uint64(1); page <= 16; page++ {
		a, err := Derive(secret, page, 1024)
		if err != nil {
			t.Fatalf("Derive() error = %v", err)
		}
		b, err := Derive(secret, page, 1024)
		if err != nil {
			t.Fatalf("Derive() error = %v", err)
		}
		if !bytes.Equal(a.PublicKey, b.PublicKey) || !bytes.Equal(a.PrivateKey, b.PrivateKey) {
			t.Fatalf("page %d: identities differ across calls", page)
		}
	}
}

func TestDerive_DistinctPages(t *testing.T) {
	secret := testSecret(t)
	seen := make(map[string]uint64)

	for page := uint64(1); page <= 256; page++ {
		id, err := Derive(secret, page, 64<<20)
		if err != nil {
			t.Fatalf("Derive() error = %v", err)
		}
		if prev, ok := seen[id.PublicHex()]; ok {
			t.Fatalf("pages %d and %d share an identity", prev, page)
		}
		seen[id.PublicHex()] = page
	}
}

func TestDerive_PageSizeIsBound(t *testing.T) {
	secret := testSecret(t)

	a, _ := Derive(secret, 1, 1024)
	b, _ := Derive(secret, 1, 2048)
	if bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("different page sizes should yield different identities")
	}
}

func TestDerive_DistinctSecrets(t *testing.T) {
	a, _ := Derive(testSecret(t), 1, 1024)
	b, _ := Derive(testSecret(t), 1, 1024)
	if bytes.Equal(a.PublicKey, b.PublicKey) {
		t.Error("different secrets should yield different identities")
	}
}

func TestDerive_Errors(t *testing.T) {
	if _, err := Derive(make([]byte, 8), 1, 1024); !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("short secret error = %v, want ErrSecretTooShort", err)
	}
	if _, err := Derive(testSecret(t), 0, 1024); !errors.Is(err, ErrInvalidPage) {
		t.Errorf("page 0 error = %v, want ErrInvalidPage", err)
	}
}

func TestIdentity_SignVerify(t *testing.T) {
	id, err := Derive(testSecret(t), 3, 1024)
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("root hash")
	sig := id.Sign(msg)
	if !id.Verify(msg, sig) {
		t.Error("Verify() should accept own signature")
	}
	if id.Verify([]byte("other"), sig) {
		t.Error("Verify() should reject a different message")
	}
}

func TestIdentity_DiscoveryKey(t *testing.T) {
	secret := testSecret(t)
	a, _ := Derive(secret, 1, 1024)
	b, _ := Derive(secret, 2, 1024)

	if a.DiscoveryKey() == b.DiscoveryKey() {
		t.Error("discovery keys of distinct partitions should differ")
	}
	dk := a.DiscoveryKey()
	if bytes.Equal(dk[:], a.PublicKey) {
		t.Error("discovery key should not equal the public key")
	}
}

func TestDerive_Concurrent(t *testing.T) {
	secret := testSecret(t)
	want, _ := Derive(secret, 7, 4096)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Derive(secret, 7, 4096)
			if err != nil || !bytes.Equal(got.PublicKey, want.PublicKey) {
				t.Error("concurrent derivation diverged")
			}
		}()
	}
	wg.Wait()
}

func TestKeys(t *testing.T) {
	secret := testSecret(t)

	keys, err := Keys(secret, 3, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("len(keys) = %d, want 3", len(keys))
	}
	id2, _ := Derive(secret, 2, 1024)
	if keys[1] != id2.PublicHex() {
		t.Error("keys[1] should be the identity of page 2")
	}
}
