// Package secretstore keeps exchange API credentials encrypted at rest
// and resolves a quick-trade request's credential_id (spec §6
// "GET /quick-trade/balance?credential_id&...") into the plaintext
// quicktrade.Credential the venue clients need. Grounded on
// crypto/crypto.go's AES-256-GCM storage envelope and its
// EncryptedString GORM custom type, adapted from a package-level
// singleton to a struct field so one process can run with or without a
// configured data key (secretstore.New with an empty key disables
// encryption rather than panicking, for local/dev sqlite runs).
package secretstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"quantcore/internal/quicktrade"
)

const (
	storagePrefix    = "ENC:v1:"
	storageDelimiter = ":"
)

// CryptoService performs AES-256-GCM envelope encryption for values
// stored in the database, mirroring crypto/crypto.go's
// EncryptForStorage/DecryptFromStorage pair.
type CryptoService struct {
	dataKey []byte
}

// New builds a CryptoService from a raw key material string: base64,
// hex, or (failing both) an arbitrary passphrase run through SHA-256,
// exactly as crypto/crypto.go's decodePossibleKey/normalizeAESKey do.
// An empty keyMaterial disables encryption — HasDataKey reports false
// and EncryptForStorage/DecryptFromStorage become no-ops.
func New(keyMaterial string) *CryptoService {
	keyMaterial = strings.TrimSpace(keyMaterial)
	if keyMaterial == "" {
		return &CryptoService{}
	}
	if key, ok := decodePossibleKey(keyMaterial); ok {
		return &CryptoService{dataKey: key}
	}
	sum := sha256.Sum256([]byte(keyMaterial))
	return &CryptoService{dataKey: sum[:]}
}

func decodePossibleKey(value string) ([]byte, bool) {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if decoded, err := decode(value); err == nil {
			if key, ok := normalizeAESKey(decoded); ok {
				return key, true
			}
		}
	}
	return nil, false
}

func normalizeAESKey(raw []byte) ([]byte, bool) {
	switch len(raw) {
	case 16, 24, 32:
		return raw, true
	case 0:
		return nil, false
	default:
		sum := sha256.Sum256(raw)
		return sum[:], true
	}
}

// HasDataKey reports whether encryption is configured.
func (cs *CryptoService) HasDataKey() bool {
	return cs != nil && len(cs.dataKey) > 0
}

func isEncryptedStorageValue(value string) bool {
	return strings.HasPrefix(value, storagePrefix)
}

// EncryptForStorage encrypts plaintext for storage, prefixed and
// nonce:ciphertext base64-encoded. Values already in storage form, or
// an unconfigured service, pass through unchanged.
func (cs *CryptoService) EncryptForStorage(plaintext string) (string, error) {
	if plaintext == "" || !cs.HasDataKey() || isEncryptedStorageValue(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(cs.dataKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return storagePrefix +
		base64.StdEncoding.EncodeToString(nonce) + storageDelimiter +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptFromStorage reverses EncryptForStorage. A value that was never
// encrypted (no configured key at write time) passes through unchanged.
func (cs *CryptoService) DecryptFromStorage(value string) (string, error) {
	if value == "" || !isEncryptedStorageValue(value) {
		return value, nil
	}
	if !cs.HasDataKey() {
		return "", errors.New("secretstore: data encryption key not configured")
	}

	payload := strings.TrimPrefix(value, storagePrefix)
	parts := strings.SplitN(payload, storageDelimiter, 2)
	if len(parts) != 2 {
		return "", errors.New("secretstore: invalid encrypted value format")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("secretstore: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secretstore: decoding ciphertext: %w", err)
	}
	block, err := aes.NewCipher(cs.dataKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("secretstore: invalid nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secretstore: decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// globalCrypto backs EncryptedString's Scan/Value, mirroring
// crypto/crypto.go's package-level globalCryptoService — GORM's
// sql.Scanner/driver.Valuer hooks have no way to receive a struct
// field, so encryption has to be reachable from a package global.
var globalCrypto *CryptoService

// SetGlobalCryptoService installs the CryptoService EncryptedString
// fields use. Call once during store setup, before any AutoMigrate or
// query that touches an EncryptedString column.
func SetGlobalCryptoService(cs *CryptoService) {
	globalCrypto = cs
}

// EncryptedString is a GORM column type that transparently encrypts on
// write and decrypts on read, for use on Credential.APIKey/SecretKey/
// Passphrase fields.
type EncryptedString string

func (es *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*es = ""
		return nil
	}
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		*es = ""
		return nil
	}
	if globalCrypto != nil && isEncryptedStorageValue(str) {
		decrypted, err := globalCrypto.DecryptFromStorage(str)
		if err != nil {
			*es = EncryptedString(str)
			return nil
		}
		*es = EncryptedString(decrypted)
		return nil
	}
	*es = EncryptedString(str)
	return nil
}

func (es EncryptedString) Value() (driver.Value, error) {
	if es == "" {
		return "", nil
	}
	if globalCrypto != nil {
		encrypted, err := globalCrypto.EncryptForStorage(string(es))
		if err != nil {
			return string(es), nil
		}
		return encrypted, nil
	}
	return string(es), nil
}

func (es EncryptedString) String() string { return string(es) }

// credentialDB is the encrypted-at-rest row backing credential_id
// lookups for the quick-trade endpoints.
type credentialDB struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index"`
	Exchange   string
	APIKey     EncryptedString
	SecretKey  EncryptedString
	Passphrase EncryptedString
}

func (credentialDB) TableName() string { return "qd_exchange_credentials" }

// CredentialStore persists exchange credentials and resolves
// credential_id into a quicktrade.Credential.
type CredentialStore struct {
	db *gorm.DB
}

// NewCredentialStore migrates and returns the store.
func NewCredentialStore(db *gorm.DB) (*CredentialStore, error) {
	if err := db.AutoMigrate(&credentialDB{}); err != nil {
		return nil, err
	}
	return &CredentialStore{db: db}, nil
}

// Save upserts a user's credential under id, encrypting API key fields
// at rest via the EncryptedString column type.
func (s *CredentialStore) Save(ctx context.Context, id, userID string, cred quicktrade.Credential) error {
	row := credentialDB{
		ID:         id,
		UserID:     userID,
		Exchange:   cred.Exchange,
		APIKey:     EncryptedString(cred.APIKey),
		SecretKey:  EncryptedString(cred.SecretKey),
		Passphrase: EncryptedString(cred.Passphrase),
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Resolve implements the credential_id -> quicktrade.Credential lookup
// spec §6's credential_id-keyed endpoints need.
func (s *CredentialStore) Resolve(ctx context.Context, id string) (quicktrade.Credential, error) {
	var row credentialDB
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return quicktrade.Credential{}, fmt.Errorf("secretstore: credential %q not found", id)
		}
		return quicktrade.Credential{}, err
	}
	return quicktrade.Credential{
		Exchange:   row.Exchange,
		APIKey:     string(row.APIKey),
		SecretKey:  string(row.SecretKey),
		Passphrase: string(row.Passphrase),
	}, nil
}
