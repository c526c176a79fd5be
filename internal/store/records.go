package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/listbridge/internal/toc"
)

// Put inserts or replaces a record of list and notifies watchers.
func (s *Store) Put(ctx context.Context, namespace, list string, rec *toc.Record) error {
	return s.PutAll(ctx, namespace, list, []*toc.Record{rec})
}

// PutAll writes records in one transaction. Watchers are notified in order
// after the commit.
func (s *Store) PutAll(ctx context.Context, namespace, list string, recs []*toc.Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := make([]*toc.Record, 0, len(recs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureList(ctx, tx, namespace, list); err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.ID == "" {
				return fmt.Errorf("record without id in %s/%s", namespace, list)
			}
			data, err := marshalData(rec.Data)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			seq, err := nextSeq(ctx, tx)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO records (namespace, list, id, sort_key, height, data, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(namespace, list, id) DO UPDATE SET
					sort_key = excluded.sort_key,
					height = excluded.height,
					data = excluded.data,
					seq = excluded.seq
			`, namespace, list, rec.ID, rec.Key, rec.EffectiveHeight(), data, seq)
			if err != nil {
				return fmt.Errorf("upsert record %s: %w", rec.ID, err)
			}
			stored = append(stored, &toc.Record{ID: rec.ID, Key: rec.Key, Height: rec.EffectiveHeight(), Data: unmarshalData(data)})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put records: %w", err)
	}

	for _, rec := range stored {
		s.notify(toc.Change{Namespace: namespace, Name: list, Record: rec})
	}
	return nil
}

// Delete removes a record. It reports whether the record existed; watchers
// only hear about deletions that happened.
func (s *Store) Delete(ctx context.Context, namespace, list, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM records WHERE namespace = ? AND list = ? AND id = ?
		`, namespace, list, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		deleted = true
		_, err = nextSeq(ctx, tx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}

	if deleted {
		s.notify(toc.Change{Namespace: namespace, Name: list, ID: id})
	}
	return deleted, nil
}

// Load returns the records of a list ordered by sort key, then id.
// Returns an empty slice (not nil) for unknown lists.
func (s *Store) Load(ctx context.Context, namespace, list string) ([]*toc.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sort_key, height, data
		FROM records
		WHERE namespace = ? AND list = ?
		ORDER BY sort_key ASC, id COLLATE BINARY ASC
	`, namespace, list)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	recs := []*toc.Record{}
	for rows.Next() {
		var (
			rec  toc.Record
			data string
		)
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Height, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Data = unmarshalData(data)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

// Lists returns the names of the lists in namespace, sorted.
func (s *Store) Lists(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM lists WHERE namespace = ? ORDER BY name COLLATE BINARY ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("query lists: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lists: %w", err)
	}
	return names, nil
}

// Seq returns the store's logical clock: the seq of the latest write.
func (s *Store) Seq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM clock WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}
	return seq, nil
}

// Resync re-announces every record of a list to watchers, as a sync task
// does after re-reading a folder from the server.
func (s *Store) Resync(ctx context.Context, namespace, list string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	recs, err := s.Load(ctx, namespace, list)
	if err != nil {
		return fmt.Errorf("resync %s/%s: %w", namespace, list, err)
	}
	for _, rec := range recs {
		s.notify(toc.Change{Namespace: namespace, Name: list, Record: rec})
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func ensureList(ctx context.Context, tx *sql.Tx, namespace, list string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO lists (namespace, name) VALUES (?, ?)
		ON CONFLICT(namespace, name) DO NOTHING
	`, namespace, list)
	if err != nil {
		return fmt.Errorf("ensure list %s/%s: %w", namespace, list, err)
	}
	return nil
}

// nextSeq advances the logical clock and returns the new value.
func nextSeq(ctx context.Context, tx *sql.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `UPDATE clock SET seq = seq + 1 WHERE id = 1 RETURNING seq`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("clock row missing")
	}
	if err != nil {
		return 0, fmt.Errorf("advance clock: %w", err)
	}
	return seq, nil
}
