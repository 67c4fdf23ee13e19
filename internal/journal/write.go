package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

// RegisterReplica records a replica and its starting content. The first
// registration of a name wins; later ones are ignored.
func (s *Store) RegisterReplica(ctx context.Context, name string, id mark.ReplicaID, initial value.Value) error {
	var initialJSON sql.NullString
	if initial != nil {
		data, err := value.Marshal(initial)
		if err != nil {
			return fmt.Errorf("register replica %s: %w", name, err)
		}
		initialJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO replicas (name, replica_id, initial)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, id.String(), initialJSON)
	if err != nil {
		return fmt.Errorf("register replica %s: %w", name, err)
	}
	return nil
}

// AppendOps journals ops in order. Operations whose mark is already
// journaled for this replica are silently skipped.
func (s *Store) AppendOps(ctx context.Context, name string, origin replica.Origin, ops []op.Operation) error {
	if origin != replica.OriginLocal && origin != replica.OriginRemote {
		return fmt.Errorf("append ops: unknown origin %q", origin)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append ops: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ops (replica, origin, mark, op)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(replica, mark) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("append ops: prepare: %w", err)
	}
	defer stmt.Close()

	for _, o := range ops {
		if !o.Mark.Valid() {
			return errors.New("append ops: operation without a mark")
		}
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("append ops: encode %s: %w", o.Mark, err)
		}
		if _, err := stmt.ExecContext(ctx, name, string(origin), o.Mark.String(), string(data)); err != nil {
			return fmt.Errorf("append ops: insert %s: %w", o.Mark, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append ops: commit: %w", err)
	}
	return nil
}

// SaveDigest records the content digest a replica reached.
func (s *Store) SaveDigest(ctx context.Context, name string, digest string, historyLen int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO digests (replica, digest, history_len)
		VALUES (?, ?, ?)
	`, name, digest, historyLen)
	if err != nil {
		return fmt.Errorf("save digest: %w", err)
	}
	return nil
}
