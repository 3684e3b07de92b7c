// ABOUTME: End-to-end encryption setup for the Matrix bridge using mautrix cryptohelper
// ABOUTME: Resets the crypto database when it belongs to a different device ID

package bridge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoManager handles Matrix E2EE setup and lifecycle.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// cryptoDBPath returns the configured crypto database path, or a per-account
// default under dataDir.
func cryptoDBPath(configured, dataDir, userID string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
}

// setupCrypto initializes E2EE for client and installs it as client.Crypto.
// Without a recovery key the device works but stays unverified.
func setupCrypto(ctx context.Context, client *mautrix.Client, dbPath, pickleKey, recoveryKey string, logger *slog.Logger) (*CryptoManager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}
	logger.Info("setting up encryption", "db", dbPath, "device_id", client.DeviceID)

	if needsReset, err := checkDeviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check device ID", "error", err)
	} else if needsReset {
		logger.Warn("device ID mismatch detected, resetting crypto database")
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("removing old crypto database: %w", err)
			}
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, deriveStoreKey(pickleKey), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized (no recovery key, device unverified)")
		return cm, nil
	}

	machine := helper.Machine()
	if machine == nil {
		logger.Warn("crypto machine not initialized, skipping verification")
		return cm, nil
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		// Encryption still works without cross-signing.
		logger.Warn("failed to verify with recovery key", "error", err)
	} else {
		logger.Info("device verified with recovery key")
	}
	return cm, nil
}

// Close cleans up crypto resources.
func (cm *CryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// checkDeviceIDMismatch reports whether an existing crypto database was
// created for a different device than currentDeviceID.
func checkDeviceIDMismatch(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != currentDeviceID, nil
}

// slugify converts a Matrix user ID to a filesystem-safe string.
// Example: @herald:matrix.org -> herald_matrix.org
func slugify(userID string) string {
	s := userID
	if len(s) > 0 && s[0] == '@' {
		s = s[1:]
	}
	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '_':
			result = append(result, c)
		case c == ':':
			result = append(result, '_')
		}
	}
	return string(result)
}

// deriveStoreKey turns the configured pickle key into the 32-byte key that
// encrypts the crypto store.
func deriveStoreKey(pickleKey string) []byte {
	h := sha256.Sum256([]byte("herald-matrix-crypto:" + pickleKey))
	return h[:]
}
