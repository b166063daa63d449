package store

import (
	"context"
	"fmt"

	"github.com/roach88/firevox/internal/voxel"
)

// Reading is one thermometer sample.
type Reading struct {
	Key         voxel.Key `json:"key"`
	Generation  int64     `json:"generation"`
	Temperature float64   `json:"temperature"`
}

// PutThermometers registers probe locations. Duplicates are ignored.
func (t *Tx) PutThermometers(ctx context.Context, keys []voxel.Key) error {
	for _, k := range keys {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO thermometers (x, y, z) VALUES (?, ?, ?)
			ON CONFLICT(x, y, z) DO NOTHING
		`, k.X, k.Y, k.Z); err != nil {
			return fmt.Errorf("write thermometer %s: %w", k, err)
		}
	}
	return nil
}

// RecordReadings samples every thermometer whose voxel materializes
// generation g. Probes on keys that were never persisted record nothing.
func (t *Tx) RecordReadings(ctx context.Context, g int64) (int64, error) {
	c := columnsFor(g)
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO thermometer_readings (x, y, z, generation, temperature)
		SELECT t.x, t.y, t.z, ?, v.%s
		FROM thermometers t
		JOIN voxels v ON v.x = t.x AND v.y = t.y AND v.z = t.z
		WHERE v.%s = ?
		ON CONFLICT(x, y, z, generation) DO UPDATE SET temperature = excluded.temperature
	`, c.temperature, c.generation), g, g)
	if err != nil {
		return 0, fmt.Errorf("record readings at generation %d: %w", g, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("record readings at generation %d: %w", g, err)
	}
	return n, nil
}

// Readings returns every recorded sample ordered by location then
// generation.
func (s *Store) Readings(ctx context.Context) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x, y, z, generation, temperature FROM thermometer_readings
		ORDER BY x, y, z, generation
	`)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := []Reading{}
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Key.X, &r.Key.Y, &r.Key.Z, &r.Generation, &r.Temperature); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return out, nil
}
