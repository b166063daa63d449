package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Topic names a message stream.
type Topic string

const (
	TopicVoxel Topic = "voxel"
	TopicPlane Topic = "plane"
)

// Message is one unit of work: process key at generation.
type Message struct {
	ID         int64  `json:"id"`
	Topic      Topic  `json:"topic"`
	Key        string `json:"key"`
	Generation int64  `json:"generation"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%s@%d", m.Topic, m.Key, m.Generation)
}

// scheduleCounter returns the to-process counter that tracks topic at
// generation g, given the current generation.
func scheduleCounter(topic Topic, g, current int64) (Counter, error) {
	var next bool
	switch g {
	case current:
	case current + 1:
		next = true
	default:
		return "", fmt.Errorf("publish %s at generation %d: current generation is %d", topic, g, current)
	}

	switch topic {
	case TopicVoxel:
		if next {
			return NextVoxels, nil
		}
		return CurrentVoxels, nil
	case TopicPlane:
		if next {
			return NextPlanes, nil
		}
		return CurrentPlanes, nil
	default:
		return "", fmt.Errorf("unknown topic %q", topic)
	}
}

// processedCounter returns the processed counter for topic.
func processedCounter(topic Topic) (Counter, error) {
	switch topic {
	case TopicVoxel:
		return ProcessedVoxels, nil
	case TopicPlane:
		return ProcessedPlanes, nil
	default:
		return "", fmt.Errorf("unknown topic %q", topic)
	}
}

// Publish enqueues (topic, key, g). g must be the current generation or the
// next one. A duplicate of an existing message is a no-op; otherwise the
// matching to-process counter grows by one in the same transaction.
// Reports whether a message was inserted.
func (t *Tx) Publish(ctx context.Context, topic Topic, key string, g int64) (bool, error) {
	current, err := t.Counter(ctx, CurrentIteration)
	if err != nil {
		return false, err
	}
	counter, err := scheduleCounter(topic, g, current)
	if err != nil {
		return false, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (topic, key, generation) VALUES (?, ?, ?)
		ON CONFLICT(topic, key, generation) DO NOTHING
	`, string(topic), key, g)
	if err != nil {
		return false, fmt.Errorf("publish %s/%s@%d: %w", topic, key, g, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish %s/%s@%d: %w", topic, key, g, err)
	}
	if n == 0 {
		return false, nil
	}
	return true, t.Add(ctx, counter, n)
}

// Publish enqueues one message in its own transaction.
func (s *Store) Publish(ctx context.Context, topic Topic, key string, g int64) (bool, error) {
	var inserted bool
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		inserted, err = tx.Publish(ctx, topic, key, g)
		return err
	})
	return inserted, err
}

// PublishPlaneMembers enqueues a voxel message at generation g for every
// non-boundary member of a plane. Returns the number of new messages.
func (t *Tx) PublishPlaneMembers(ctx context.Context, planeID int64, g int64) (int64, error) {
	current, err := t.Counter(ctx, CurrentIteration)
	if err != nil {
		return 0, err
	}
	counter, err := scheduleCounter(TopicVoxel, g, current)
	if err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (topic, key, generation)
		SELECT 'voxel', pv.x || ',' || pv.y || ',' || pv.z, ?
		FROM plane_voxels pv
		JOIN voxels v ON v.x = pv.x AND v.y = pv.y AND v.z = pv.z
		WHERE pv.plane_id = ? AND v.boundary = 0
		ON CONFLICT(topic, key, generation) DO NOTHING
	`, g, planeID)
	if err != nil {
		return 0, fmt.Errorf("publish plane %d members: %w", planeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("publish plane %d members: %w", planeID, err)
	}
	if n == 0 {
		return 0, nil
	}
	return n, t.Add(ctx, counter, n)
}

// PublishPlanes enqueues a plane message at generation g for every plane.
// Returns the number of new messages.
func (t *Tx) PublishPlanes(ctx context.Context, g int64) (int64, error) {
	current, err := t.Counter(ctx, CurrentIteration)
	if err != nil {
		return 0, err
	}
	counter, err := scheduleCounter(TopicPlane, g, current)
	if err != nil {
		return 0, err
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (topic, key, generation)
		SELECT 'plane', CAST(id AS TEXT), ? FROM planes WHERE true
		ON CONFLICT(topic, key, generation) DO NOTHING
	`, g)
	if err != nil {
		return 0, fmt.Errorf("publish planes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("publish planes: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	return n, t.Add(ctx, counter, n)
}

// Claim leases up to limit unacknowledged messages to worker until
// now+lease. Messages for a generation past the current one, or still
// leased to someone, are skipped. Oldest generation first.
func (s *Store) Claim(ctx context.Context, worker string, limit int, now time.Time, lease time.Duration) ([]Message, error) {
	var claimed []Message
	err := s.Update(ctx, func(tx *Tx) error {
		rows, err := tx.tx.QueryContext(ctx, `
			SELECT id, topic, key, generation FROM messages
			WHERE acked = 0
			  AND generation <= (SELECT value FROM counters WHERE name = 'current_iteration')
			  AND (claimed_until IS NULL OR claimed_until <= ?)
			ORDER BY generation ASC, id ASC
			LIMIT ?
		`, now.UnixMilli(), limit)
		if err != nil {
			return fmt.Errorf("query claimable messages: %w", err)
		}
		claimed = []Message{}
		for rows.Next() {
			var (
				m     Message
				topic string
			)
			if err := rows.Scan(&m.ID, &topic, &m.Key, &m.Generation); err != nil {
				rows.Close()
				return fmt.Errorf("scan message: %w", err)
			}
			m.Topic = Topic(topic)
			claimed = append(claimed, m)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate messages: %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]any, 0, len(claimed)+2)
		ids = append(ids, worker, now.Add(lease).UnixMilli())
		for _, m := range claimed {
			ids = append(ids, m.ID)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(claimed)), ", ")
		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE messages SET claimed_by = ?, claimed_until = ?
			WHERE id IN (`+placeholders+`)
		`, ids...); err != nil {
			return fmt.Errorf("lease messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Ack marks a message done.
func (t *Tx) Ack(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE messages SET acked = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ack message %d: %w", id, err)
	}
	return nil
}

// Ack marks a message done in its own transaction.
func (s *Store) Ack(ctx context.Context, id int64) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Ack(ctx, id) })
}

// Release drops worker's lease on a message so it can be claimed again
// immediately.
func (s *Store) Release(ctx context.Context, id int64, worker string) error {
	return s.Update(ctx, func(tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `
			UPDATE messages SET claimed_by = NULL, claimed_until = NULL
			WHERE id = ? AND claimed_by = ? AND acked = 0
		`, id, worker); err != nil {
			return fmt.Errorf("release message %d: %w", id, err)
		}
		return nil
	})
}

// Complete records that worker finished (topic, key, g) and bumps the
// processed counter. Reports false, and changes nothing, when the item was
// already completed by an earlier delivery.
func (t *Tx) Complete(ctx context.Context, topic Topic, key string, g int64, worker string) (bool, error) {
	counter, err := processedCounter(topic)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO completions (topic, key, generation, worker) VALUES (?, ?, ?, ?)
		ON CONFLICT(topic, key, generation) DO NOTHING
	`, string(topic), key, g, worker)
	if err != nil {
		return false, fmt.Errorf("complete %s/%s@%d: %w", topic, key, g, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete %s/%s@%d: %w", topic, key, g, err)
	}
	if n == 0 {
		return false, nil
	}
	return true, t.Add(ctx, counter, 1)
}

// PendingMessages counts unacknowledged messages.
func (s *Store) PendingMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE acked = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending messages: %w", err)
	}
	return n, nil
}

// Messages lists every message of generation g ordered by id.
func (s *Store) Messages(ctx context.Context, g int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, key, generation FROM messages WHERE generation = ? ORDER BY id
	`, g)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m     Message
			topic string
		)
		if err := rows.Scan(&m.ID, &topic, &m.Key, &m.Generation); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Topic = Topic(topic)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Prune deletes messages and completions of generation g and older.
func (t *Tx) Prune(ctx context.Context, g int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM messages WHERE generation <= ?`, g); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM completions WHERE generation <= ?`, g); err != nil {
		return fmt.Errorf("prune completions: %w", err)
	}
	return nil
}
