package storage

import (
	"database/sql"
	"errors"

	"github.com/Anmol1085/social-clone/internal/proto"
)

// SetPublicKey stores or replaces a user's published encryption key. The
// key is opaque to the server: there is no out-of-band verification, so
// this directory defends against passive snooping only, not an active
// substitution of keys.
func (d *DB) SetPublicKey(userID, publicKey string) error {
	if userID == "" || publicKey == "" {
		return errors.New("user and key are required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO public_keys (user_id, public_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			public_key = excluded.public_key,
			updated_at = excluded.updated_at`,
		userID, publicKey, proto.NowMillis(),
	)
	return err
}

// PublicKey returns a user's published key, or false if none is known.
func (d *DB) PublicKey(userID string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var key string
	err := d.db.QueryRow(`SELECT public_key FROM public_keys WHERE user_id = ?`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}
