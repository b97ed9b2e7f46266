package manager

import (
	"context"
	"strconv"

	"github.com/systmms/cfgstore/internal/audit"
	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/secure"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// RotationResult reports a key rotation.
type RotationResult struct {
	PreviousKeyID string
	KeyID         string
	Reencrypted   int

	// Retained lists retired key IDs kept because re-encryption did not
	// finish. Empty after a complete rotation.
	Retained []string
}

// RotateKey makes newKey the primary key and re-encrypts every stored
// secret version with it. The previous key is retired and kept until all
// versions have moved, so secrets stay readable throughout. newKey is
// wiped.
//
// When re-encryption fails part-way the result is returned together with
// the error. Rotating again with the same key resumes the migration.
func (m *Manager) RotateKey(ctx context.Context, newKey []byte, author string) (*RotationResult, error) {
	if err := m.require(ctx, author, configstore.ActionRotate, configstore.ResourceSecret, configstore.Tuple{}); err != nil {
		secure.Wipe(newKey)
		return nil, err
	}

	engine, err := crypto.New(newKey)
	if err != nil {
		return nil, err
	}
	keyID := engine.KeyID()

	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	m.sealMu.Lock()
	prev := m.keys.Rotate(engine)
	m.sealMu.Unlock()
	m.logger.Info("Rotating master key %s -> %s", prev, keyID)

	n, err := m.store.ReencryptAll(ctx)
	result := &RotationResult{PreviousKeyID: prev, KeyID: keyID, Reencrypted: n}

	// Cached blobs may still reference the retired key.
	if perr := m.cache.Purge(context.WithoutCancel(ctx)); perr != nil {
		m.logger.Warn("Cache purge after rotation failed: %v", perr)
	}

	if err != nil {
		result.Retained = m.keys.RetiredIDs()
		m.logger.Warn("Re-encryption incomplete after %d version(s), keeping retired keys %v", n, result.Retained)
		return result, err
	}
	m.keys.DropRetired()

	e := audit.NewEvent(audit.KeyRotated, author, configstore.Tuple{})
	e.Details = map[string]string{
		"previous_key": prev,
		"key":          keyID,
		"reencrypted":  strconv.Itoa(n),
	}
	m.record(e)
	m.metrics.RecordWrite(string(configstore.ActionRotate), "")
	return result, nil
}
