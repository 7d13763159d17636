package bolt

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/goodtune/voiceboard/internal/storage"
	"go.etcd.io/bbolt"
)

type timeStore struct {
	db *bbolt.DB
}

func timeKey(spaceID, userID string) []byte {
	return []byte(fmt.Sprintf("%s/%s", spaceID, userID))
}

func (s *timeStore) Get(ctx context.Context, spaceID, userID string) (*storage.UserTime, error) {
	var rec *storage.UserTime
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketVoiceTime))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get(timeKey(spaceID, userID))
		if value == nil {
			return storage.ErrNotFound
		}
		var result storage.UserTime
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		rec = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *timeStore) Upsert(ctx context.Context, rec storage.UserTime) error {
	data, err := marshal(rec)
	if err != nil {
		return err
	}
	key := timeKey(rec.SpaceID, rec.UserID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketVoiceTime))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucketVoiceTime)
		}
		if err := b.Put(key, data); err != nil {
			return err
		}
		open := tx.Bucket([]byte(bucketOpenSessions))
		if open == nil {
			return fmt.Errorf("bucket missing: %s", bucketOpenSessions)
		}
		if rec.ActiveSince != nil {
			return open.Put(key, []byte{1})
		}
		return open.Delete(key)
	})
}

func (s *timeStore) TopByTotal(ctx context.Context, spaceID string, limit int) ([]storage.UserTime, error) {
	prefix := []byte(spaceID + "/")
	recs := make([]storage.UserTime, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketVoiceTime))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var rec storage.UserTime
			if err := unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortByTotal(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

func (s *timeStore) ListOpenSessions(ctx context.Context) ([]storage.UserTime, error) {
	recs := make([]storage.UserTime, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		open := tx.Bucket([]byte(bucketOpenSessions))
		times := tx.Bucket([]byte(bucketVoiceTime))
		if open == nil || times == nil {
			return nil
		}
		return open.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			value := times.Get(k)
			if value == nil {
				// Stale index entry, record was removed.
				return nil
			}
			var rec storage.UserTime
			if err := unmarshal(value, &rec); err != nil {
				return err
			}
			if rec.ActiveSince != nil {
				recs = append(recs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *timeStore) ListSpaces(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketVoiceTime))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i := bytes.IndexByte(k, '/'); i > 0 {
				seen[string(k[:i])] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	spaces := make([]string, 0, len(seen))
	for space := range seen {
		spaces = append(spaces, space)
	}
	sort.Strings(spaces)
	return spaces, nil
}
