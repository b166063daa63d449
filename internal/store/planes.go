package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/voxel"
)

// PutPlanes inserts radiation planes with their member voxels and outgoing
// connections.
func (t *Tx) PutPlanes(ctx context.Context, planes []*radiation.Plane) error {
	planeStmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO planes (id, corner_a, corner_b, corner_c, corner_d, normal, middle, material_id, area)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write planes: %w", err)
	}
	defer planeStmt.Close()

	memberStmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO plane_voxels (plane_id, x, y, z) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write plane voxels: %w", err)
	}
	defer memberStmt.Close()

	connStmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO connections
		(source_id, destination_id, view_factor, q_net, source_voxels, destination_voxels)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write connections: %w", err)
	}
	defer connStmt.Close()

	// Planes first: connections reference their source.
	for _, p := range planes {
		if _, err := planeStmt.ExecContext(ctx,
			p.ID, p.A.String(), p.B.String(), p.C.String(), p.D.String(),
			p.Normal.String(), p.Middle.String(), p.Material, p.Area,
		); err != nil {
			return fmt.Errorf("write plane %d: %w", p.ID, err)
		}
		for _, k := range p.Members {
			if _, err := memberStmt.ExecContext(ctx, p.ID, k.X, k.Y, k.Z); err != nil {
				return fmt.Errorf("write plane %d voxel %s: %w", p.ID, k, err)
			}
		}
	}
	for _, p := range planes {
		for _, c := range p.Connections {
			if _, err := connStmt.ExecContext(ctx,
				c.Source, c.Destination, c.ViewFactor, c.QNet, c.SourceVoxels, c.DestinationVoxels,
			); err != nil {
				return fmt.Errorf("write connection %d->%d: %w", c.Source, c.Destination, err)
			}
		}
	}
	return nil
}

// Plane reads a plane with its members and outgoing connections.
func (s *Store) Plane(ctx context.Context, id int64) (*radiation.Plane, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, corner_a, corner_b, corner_c, corner_d, normal, middle, material_id, area
		FROM planes WHERE id = ?
	`, id)
	p, err := scanPlane(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plane %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read plane %d: %w", id, err)
	}

	if p.Members, err = s.planeMembers(ctx, id); err != nil {
		return nil, err
	}
	if p.Connections, err = s.connections(ctx, `WHERE source_id = ?`, id); err != nil {
		return nil, err
	}
	return p, nil
}

// Planes reads every plane ordered by id, with members and connections.
func (s *Store) Planes(ctx context.Context) ([]*radiation.Plane, error) {
	ids, err := s.PlaneIDs(ctx)
	if err != nil {
		return nil, err
	}
	planes := make([]*radiation.Plane, 0, len(ids))
	for _, id := range ids {
		p, err := s.Plane(ctx, id)
		if err != nil {
			return nil, err
		}
		planes = append(planes, p)
	}
	return planes, nil
}

// PlaneIDs returns all plane ids in ascending order.
func (s *Store) PlaneIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM planes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query plane ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan plane id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plane ids: %w", err)
	}
	return ids, nil
}

// MemberTemperatures returns, per plane, the generation g temperatures of
// its member voxels. Members whose slot does not materialize g are left
// out.
func (s *Store) MemberTemperatures(ctx context.Context, planeIDs []int64, g int64) (map[int64][]float64, error) {
	out := make(map[int64][]float64, len(planeIDs))
	if len(planeIDs) == 0 {
		return out, nil
	}

	c := columnsFor(g)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(planeIDs)), ", ")
	args := make([]any, 0, len(planeIDs)+1)
	args = append(args, g)
	for _, id := range planeIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT pv.plane_id, v.%s
		FROM plane_voxels pv
		JOIN voxels v ON v.x = pv.x AND v.y = pv.y AND v.z = pv.z
		WHERE v.%s = ? AND pv.plane_id IN (%s)
		ORDER BY pv.plane_id, pv.x, pv.y, pv.z
	`, c.temperature, c.generation, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query member temperatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			t  float64
		)
		if err := rows.Scan(&id, &t); err != nil {
			return nil, fmt.Errorf("scan member temperature: %w", err)
		}
		out[id] = append(out[id], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member temperatures: %w", err)
	}
	return out, nil
}

// AddFlux accumulates q onto a connection's net flux. The addition happens
// in SQL so concurrent plane workers never lose updates.
func (t *Tx) AddFlux(ctx context.Context, source, destination int64, q float64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE connections SET q_net = q_net + ?
		WHERE source_id = ? AND destination_id = ?
	`, q, source, destination)
	if err != nil {
		return fmt.Errorf("add flux %d->%d: %w", source, destination, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add flux %d->%d: %w", source, destination, err)
	}
	if n == 0 {
		return fmt.Errorf("connection %d->%d: %w", source, destination, ErrNotFound)
	}
	return nil
}

// FluxEntry is a connection with accumulated flux and the materials of both
// endpoints. DestinationMaterial is voxel.Empty for ambient connections.
type FluxEntry struct {
	radiation.Connection
	SourceMaterial      int
	DestinationMaterial int
}

// PendingFlux returns the connections with non-zero accumulated flux,
// ordered by (source, destination).
func (t *Tx) PendingFlux(ctx context.Context) ([]FluxEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT c.source_id, c.destination_id, c.view_factor, c.q_net,
		       c.source_voxels, c.destination_voxels,
		       src.material_id, COALESCE(dst.material_id, 0)
		FROM connections c
		JOIN planes src ON src.id = c.source_id
		LEFT JOIN planes dst ON dst.id = c.destination_id
		WHERE c.q_net != 0
		ORDER BY c.source_id, c.destination_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending flux: %w", err)
	}
	defer rows.Close()

	entries := []FluxEntry{}
	for rows.Next() {
		var e FluxEntry
		if err := rows.Scan(
			&e.Source, &e.Destination, &e.ViewFactor, &e.QNet,
			&e.SourceVoxels, &e.DestinationVoxels,
			&e.SourceMaterial, &e.DestinationMaterial,
		); err != nil {
			return nil, fmt.Errorf("scan pending flux: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending flux: %w", err)
	}
	return entries, nil
}

// ResetFlux zeroes every connection's accumulator.
func (t *Tx) ResetFlux(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `UPDATE connections SET q_net = 0 WHERE q_net != 0`); err != nil {
		return fmt.Errorf("reset flux: %w", err)
	}
	return nil
}

// TotalFlux sums the accumulators of all connections.
func (s *Store) TotalFlux(ctx context.Context) (float64, error) {
	var total float64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(q_net), 0) FROM connections`).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum flux: %w", err)
	}
	return total, nil
}

func (s *Store) planeMembers(ctx context.Context, id int64) ([]voxel.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x, y, z FROM plane_voxels WHERE plane_id = ? ORDER BY x, y, z
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query plane %d voxels: %w", id, err)
	}
	defer rows.Close()

	members := []voxel.Key{}
	for rows.Next() {
		var k voxel.Key
		if err := rows.Scan(&k.X, &k.Y, &k.Z); err != nil {
			return nil, fmt.Errorf("scan plane voxel: %w", err)
		}
		members = append(members, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plane voxels: %w", err)
	}
	return members, nil
}

func (s *Store) connections(ctx context.Context, where string, args ...any) ([]radiation.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, destination_id, view_factor, q_net, source_voxels, destination_voxels
		FROM connections `+where+`
		ORDER BY CASE WHEN destination_id = 0 THEN 1 ELSE 0 END, destination_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	conns := []radiation.Connection{}
	for rows.Next() {
		var c radiation.Connection
		if err := rows.Scan(&c.Source, &c.Destination, &c.ViewFactor, &c.QNet, &c.SourceVoxels, &c.DestinationVoxels); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return conns, nil
}

func scanPlane(row rowScanner) (*radiation.Plane, error) {
	var (
		p                          radiation.Plane
		a, b, c, d, normal, middle string
	)
	if err := row.Scan(&p.ID, &a, &b, &c, &d, &normal, &middle, &p.Material, &p.Area); err != nil {
		return nil, err
	}

	var err error
	for _, f := range []struct {
		dst *voxel.Key
		src string
	}{
		{&p.A, a}, {&p.B, b}, {&p.C, c}, {&p.D, d}, {&p.Normal, normal}, {&p.Middle, middle},
	} {
		if *f.dst, err = voxel.ParseKey(f.src); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
