package secretstore

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantcore/internal/quicktrade"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cs := New("this-is-a-test-passphrase")
	if !cs.HasDataKey() {
		t.Fatal("expected a derived data key from a non-base64 passphrase")
	}
	enc, err := cs.EncryptForStorage("super-secret-api-key")
	if err != nil {
		t.Fatalf("unexpected error encrypting: %v", err)
	}
	if enc == "super-secret-api-key" {
		t.Fatal("expected ciphertext to differ from plaintext")
	}
	dec, err := cs.DecryptFromStorage(enc)
	if err != nil {
		t.Fatalf("unexpected error decrypting: %v", err)
	}
	if dec != "super-secret-api-key" {
		t.Fatalf("expected round-trip to recover plaintext, got %q", dec)
	}
}

func TestEncryptForStorageWithoutKeyIsNoop(t *testing.T) {
	cs := New("")
	out, err := cs.EncryptForStorage("plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "plain" {
		t.Fatalf("expected passthrough without a configured key, got %q", out)
	}
}

func TestCredentialStoreEncryptsFieldsAtRest(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	SetGlobalCryptoService(New("unit-test-data-key"))
	defer SetGlobalCryptoService(nil)

	store, err := NewCredentialStore(db)
	if err != nil {
		t.Fatalf("unexpected error building store: %v", err)
	}
	ctx := context.Background()
	cred := quicktrade.Credential{Exchange: "binance", APIKey: "ak", SecretKey: "sk", Passphrase: "pp"}
	if err := store.Save(ctx, "cred1", "u1", cred); err != nil {
		t.Fatalf("unexpected error saving: %v", err)
	}

	var raw struct{ APIKey string }
	if err := db.Table("qd_exchange_credentials").Select("api_key").Where("id = ?", "cred1").Scan(&raw).Error; err != nil {
		t.Fatalf("unexpected error reading raw row: %v", err)
	}
	if raw.APIKey == "ak" {
		t.Fatal("expected the stored api_key column to be encrypted, not plaintext")
	}

	resolved, err := store.Resolve(ctx, "cred1")
	if err != nil {
		t.Fatalf("unexpected error resolving: %v", err)
	}
	if resolved.APIKey != "ak" || resolved.SecretKey != "sk" || resolved.Passphrase != "pp" {
		t.Fatalf("expected decrypted credential to round-trip, got %+v", resolved)
	}
}

func TestCredentialStoreResolveUnknownID(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	store, err := NewCredentialStore(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Resolve(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error resolving an unknown credential id")
	}
}
