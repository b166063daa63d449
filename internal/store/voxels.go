package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/firevox/internal/voxel"
)

const voxelColumns = `x, y, z, boundary, burning_counter,
	material_even, temperature_even, smoke_even, generation_even,
	material_odd, temperature_odd, smoke_odd, generation_odd`

// voxelBatch bounds the number of keys per row-value IN query.
const voxelBatch = 200

type slotColumns struct {
	material, temperature, smoke, generation string
}

var parityColumns = [2]slotColumns{
	{"material_even", "temperature_even", "smoke_even", "generation_even"},
	{"material_odd", "temperature_odd", "smoke_odd", "generation_odd"},
}

// columnsFor returns the column names of the slot holding generation g.
func columnsFor(g int64) slotColumns {
	return parityColumns[voxel.Parity(g)]
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVoxel(row rowScanner) (voxel.State, error) {
	var (
		s        voxel.State
		boundary int
	)
	err := row.Scan(
		&s.Key.X, &s.Key.Y, &s.Key.Z, &boundary, &s.BurningCounter,
		&s.Slots[0].Material, &s.Slots[0].Temperature, &s.Slots[0].Smoke, &s.Slots[0].Generation,
		&s.Slots[1].Material, &s.Slots[1].Temperature, &s.Slots[1].Smoke, &s.Slots[1].Generation,
	)
	s.Boundary = boundary != 0
	return s, err
}

// PutVoxels inserts initial voxel states. Existing keys are left untouched.
func (t *Tx) PutVoxels(ctx context.Context, states []voxel.State) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO voxels (`+voxelColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(x, y, z) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write voxels: %w", err)
	}
	defer stmt.Close()

	for _, s := range states {
		_, err := stmt.ExecContext(ctx,
			s.Key.X, s.Key.Y, s.Key.Z, boolInt(s.Boundary), s.BurningCounter,
			s.Slots[0].Material, s.Slots[0].Temperature, s.Slots[0].Smoke, s.Slots[0].Generation,
			s.Slots[1].Material, s.Slots[1].Temperature, s.Slots[1].Smoke, s.Slots[1].Generation,
		)
		if err != nil {
			return fmt.Errorf("write voxel %s: %w", s.Key, err)
		}
	}
	return nil
}

// Voxel reads one voxel. Returns ErrNotFound if the key was never persisted.
func (s *Store) Voxel(ctx context.Context, k voxel.Key) (voxel.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+voxelColumns+` FROM voxels WHERE x = ? AND y = ? AND z = ?
	`, k.X, k.Y, k.Z)
	st, err := scanVoxel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return voxel.State{}, fmt.Errorf("voxel %s: %w", k, ErrNotFound)
	}
	if err != nil {
		return voxel.State{}, fmt.Errorf("read voxel %s: %w", k, err)
	}
	return st, nil
}

// Voxels reads the persisted voxels among keys. Keys that were never
// persisted are absent from the result.
func (s *Store) Voxels(ctx context.Context, keys []voxel.Key) (map[voxel.Key]voxel.State, error) {
	out := make(map[voxel.Key]voxel.State, len(keys))
	for start := 0; start < len(keys); start += voxelBatch {
		batch := keys[start:min(start+voxelBatch, len(keys))]

		placeholders := make([]string, len(batch))
		args := make([]any, 0, 3*len(batch))
		for i, k := range batch {
			placeholders[i] = "(?, ?, ?)"
			args = append(args, k.X, k.Y, k.Z)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT `+voxelColumns+` FROM voxels
			WHERE (x, y, z) IN (VALUES `+strings.Join(placeholders, ", ")+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("query voxels: %w", err)
		}
		for rows.Next() {
			st, err := scanVoxel(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan voxel: %w", err)
			}
			out[st.Key] = st
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate voxels: %w", err)
		}
	}
	return out, nil
}

// CountVoxels returns the number of persisted voxels.
func (s *Store) CountVoxels(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM voxels`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count voxels: %w", err)
	}
	return n, nil
}

// VoxelKeys returns every persisted key ordered by (x, y, z).
func (s *Store) VoxelKeys(ctx context.Context) ([]voxel.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y, z FROM voxels ORDER BY x, y, z`)
	if err != nil {
		return nil, fmt.Errorf("query voxel keys: %w", err)
	}
	defer rows.Close()

	keys := []voxel.Key{}
	for rows.Next() {
		var k voxel.Key
		if err := rows.Scan(&k.X, &k.Y, &k.Z); err != nil {
			return nil, fmt.Errorf("scan voxel key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voxel keys: %w", err)
	}
	return keys, nil
}

// WriteSlot stores slot as generation g of voxel k, in the slot selected by
// the parity of g.
func (t *Tx) WriteSlot(ctx context.Context, k voxel.Key, g int64, slot voxel.Slot) error {
	c := columnsFor(g)
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE voxels SET %s = ?, %s = ?, %s = ?, %s = ?
		WHERE x = ? AND y = ? AND z = ?
	`, c.material, c.temperature, c.smoke, c.generation),
		slot.Material, slot.Temperature, slot.Smoke, g, k.X, k.Y, k.Z)
	if err != nil {
		return fmt.Errorf("write voxel %s: %w", k, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write voxel %s: %w", k, err)
	}
	if n == 0 {
		return fmt.Errorf("write voxel %s: %w", k, ErrNotFound)
	}
	return nil
}

// CarryForward materializes generation g+1 for every voxel whose update was
// not scheduled, by copying its generation g slot. Returns the number of
// voxels copied.
func (t *Tx) CarryForward(ctx context.Context, g int64) (int64, error) {
	from, to := columnsFor(g), columnsFor(g+1)
	res, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE voxels SET %s = %s, %s = %s, %s = %s, %s = ?
		WHERE %s != ?
	`,
		to.material, from.material,
		to.temperature, from.temperature,
		to.smoke, from.smoke,
		to.generation,
		to.generation,
	), g+1, g+1)
	if err != nil {
		return 0, fmt.Errorf("carry forward generation %d: %w", g, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("carry forward generation %d: %w", g, err)
	}
	return n, nil
}

// HeatedMember is a non-boundary plane member and its material.
type HeatedMember struct {
	Key      voxel.Key
	Material int
}

// HeatedMembers returns the members of a plane that exchange heat, with
// their generation g material, ordered by key. Boundary voxels are left out.
func (t *Tx) HeatedMembers(ctx context.Context, planeID int64, g int64) ([]HeatedMember, error) {
	c := columnsFor(g)
	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT v.x, v.y, v.z, v.%s
		FROM plane_voxels p
		JOIN voxels v ON v.x = p.x AND v.y = p.y AND v.z = p.z
		WHERE p.plane_id = ? AND v.boundary = 0
		ORDER BY v.x, v.y, v.z
	`, c.material), planeID)
	if err != nil {
		return nil, fmt.Errorf("query plane %d members: %w", planeID, err)
	}
	defer rows.Close()

	var members []HeatedMember
	for rows.Next() {
		var m HeatedMember
		if err := rows.Scan(&m.Key.X, &m.Key.Y, &m.Key.Z, &m.Material); err != nil {
			return nil, fmt.Errorf("scan plane %d member: %w", planeID, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plane %d members: %w", planeID, err)
	}
	return members, nil
}

// ShiftTemperature adds delta to generation g's temperature of voxel k.
func (t *Tx) ShiftTemperature(ctx context.Context, k voxel.Key, g int64, delta float64) error {
	c := columnsFor(g)
	_, err := t.tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE voxels SET %s = %s + ? WHERE x = ? AND y = ? AND z = ?
	`, c.temperature, c.temperature), delta, k.X, k.Y, k.Z)
	if err != nil {
		return fmt.Errorf("shift voxel %s temperature: %w", k, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
