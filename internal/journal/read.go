package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

// ErrUnknownReplica is returned for a name that was never registered.
var ErrUnknownReplica = errors.New("journal: unknown replica")

// ReplicaRecord is one registered replica.
type ReplicaRecord struct {
	Name      string
	ReplicaID string
	Initial   value.Value // nil when the replica started undefined
}

// OpRecord is one journaled operation.
type OpRecord struct {
	Seq     int64
	Replica string
	Origin  replica.Origin
	Op      op.Operation
}

// DigestRecord is a digest snapshot.
type DigestRecord struct {
	Seq        int64
	Replica    string
	Digest     string
	HistoryLen int
}

// ReadReplicas returns every registered replica in registration order.
// Returns an empty slice (not nil) when none exist.
func (s *Store) ReadReplicas(ctx context.Context) ([]ReplicaRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, replica_id, initial
		FROM replicas
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query replicas: %w", err)
	}
	defer rows.Close()

	records := []ReplicaRecord{}
	for rows.Next() {
		rec, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replicas: %w", err)
	}
	return records, nil
}

// ReadReplica returns one registered replica.
func (s *Store) ReadReplica(ctx context.Context, name string) (ReplicaRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, replica_id, initial
		FROM replicas
		WHERE name = ?
	`, name)
	rec, err := scanReplica(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReplicaRecord{}, fmt.Errorf("%w: %s", ErrUnknownReplica, name)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReplica(row scanner) (ReplicaRecord, error) {
	var (
		rec     ReplicaRecord
		initial sql.NullString
	)
	if err := row.Scan(&rec.Name, &rec.ReplicaID, &initial); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan replica: %w", err)
	}
	if initial.Valid {
		v, err := value.Unmarshal([]byte(initial.String))
		if err != nil {
			return rec, fmt.Errorf("decode initial content of %s: %w", rec.Name, err)
		}
		rec.Initial = v
	}
	return rec, nil
}

// ReadOps returns the operations journaled for a replica in arrival
// order (ORDER BY seq ASC).
func (s *Store) ReadOps(ctx context.Context, name string) ([]OpRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, replica, origin, op
		FROM ops
		WHERE replica = ?
		ORDER BY seq ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	records := []OpRecord{}
	for rows.Next() {
		var (
			rec    OpRecord
			origin string
			data   string
		)
		if err := rows.Scan(&rec.Seq, &rec.Replica, &origin, &data); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		rec.Origin = replica.Origin(origin)
		if err := json.Unmarshal([]byte(data), &rec.Op); err != nil {
			return nil, fmt.Errorf("decode op %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return records, nil
}

// LatestDigest returns the last digest saved for a replica. ok is false
// when the replica never saved one.
func (s *Store) LatestDigest(ctx context.Context, name string) (rec DigestRecord, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT seq, replica, digest, history_len
		FROM digests
		WHERE replica = ?
		ORDER BY seq DESC
		LIMIT 1
	`, name).Scan(&rec.Seq, &rec.Replica, &rec.Digest, &rec.HistoryLen)
	if errors.Is(err, sql.ErrNoRows) {
		return DigestRecord{}, false, nil
	}
	if err != nil {
		return DigestRecord{}, false, fmt.Errorf("query digest: %w", err)
	}
	return rec, true, nil
}
