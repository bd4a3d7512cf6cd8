package session

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

// Keys of the persisted flags.
const (
	keyLoggedIn = "loggedInState"
	keyUsername = "loggedInUsername"
	keyUserID   = "loggedInUserId"
	keyIsAdmin  = "loggedInAsAdmin"
	keyLastSync = "lastEventDownload"
)

// BoltStorage persists the session flags as plain key/value strings in a
// bbolt database.
type BoltStorage struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the session database at path.
func OpenBolt(path string) (*BoltStorage, error) {
	if path == "" {
		return nil, errors.New("session: db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStorage{db: db}, nil
}

func (b *BoltStorage) Close() error {
	return b.db.Close()
}

// Load reads the flags. Missing or malformed values fall back to zero values,
// so a fresh database yields a logged-out snapshot.
func (b *BoltStorage) Load() (Snapshot, error) {
	var snap Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketSession)
		if bk == nil {
			return errors.New("session bucket not found")
		}
		get := func(k string) string { return string(bk.Get([]byte(k))) }

		snap.LoggedIn, _ = strconv.ParseBool(get(keyLoggedIn))
		snap.Username = get(keyUsername)
		snap.UserID, _ = strconv.Atoi(get(keyUserID))
		snap.IsAdmin, _ = strconv.ParseBool(get(keyIsAdmin))
		if v := get(keyLastSync); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				snap.LastSync = t
			}
		}
		return nil
	})
	return snap, err
}

func (b *BoltStorage) Save(snap Snapshot) error {
	lastSync := ""
	if !snap.LastSync.IsZero() {
		lastSync = snap.LastSync.Format(time.RFC3339)
	}
	values := map[string]string{
		keyLoggedIn: strconv.FormatBool(snap.LoggedIn),
		keyUsername: snap.Username,
		keyUserID:   strconv.Itoa(snap.UserID),
		keyIsAdmin:  strconv.FormatBool(snap.IsAdmin),
		keyLastSync: lastSync,
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bk := tx.Bucket(bucketSession)
		if bk == nil {
			return errors.New("session bucket not found")
		}
		for k, v := range values {
			if err := bk.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}
