package service

import (
	"context"
	"database/sql"
	"fmt"
)

// Summary is the statistics panel derived from the current building list.
type Summary struct {
	TotalBuildings int             `json:"totalBuildings"`
	AverageArea    float64         `json:"averageArea" doc:"Mean area in m², rounded to whole meters"`
	AverageFloors  float64         `json:"averageFloors" doc:"Mean floor count, one decimal"`
	Districts      int             `json:"districts" doc:"Number of distinct districts"`
	ByDistrict     []DistrictCount `json:"byDistrict"`
}

// DistrictCount is the number of buildings in one district.
type DistrictCount struct {
	District string `json:"district"`
	Count    int    `json:"count"`
}

// UnknownDistrict labels buildings without a district.
const UnknownDistrict = "Unknown"

// Stats aggregates building lists with SQL on DuckDB.
type Stats struct {
	db *sql.DB
}

// NewStats creates a Stats on an open DuckDB handle.
func NewStats(db *sql.DB) *Stats {
	return &Stats{db: db}
}

// Summarize loads buildings into a temporary table on a dedicated connection
// and aggregates it. An empty list yields a zero Summary.
func (s *Stats) Summarize(ctx context.Context, buildings []Building) (Summary, error) {
	var sum Summary
	if len(buildings) == 0 {
		return sum, nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return sum, err
	}
	defer conn.Close()

	if err := load(ctx, conn, buildings); err != nil {
		return sum, fmt.Errorf("loading buildings: %w", err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `DROP TABLE IF EXISTS result_buildings`)

	row := conn.QueryRowContext(ctx, `
		SELECT count(*),
		       coalesce(round(avg(area)), 0),
		       coalesce(round(avg(floors), 1), 0),
		       count(DISTINCT district)
		FROM result_buildings`)
	var total, districts int64
	if err := row.Scan(&total, &sum.AverageArea, &sum.AverageFloors, &districts); err != nil {
		return sum, fmt.Errorf("aggregating: %w", err)
	}
	sum.TotalBuildings = int(total)
	sum.Districts = int(districts)

	rows, err := conn.QueryContext(ctx, `
		SELECT district, count(*) AS n
		FROM result_buildings
		GROUP BY district
		ORDER BY n DESC, district`)
	if err != nil {
		return sum, fmt.Errorf("grouping by district: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc DistrictCount
		var n int64
		if err := rows.Scan(&dc.District, &n); err != nil {
			return sum, err
		}
		dc.Count = int(n)
		sum.ByDistrict = append(sum.ByDistrict, dc)
	}
	return sum, rows.Err()
}

func load(ctx context.Context, conn *sql.Conn, buildings []Building) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE OR REPLACE TEMP TABLE result_buildings (
			id       VARCHAR,
			area     DOUBLE,
			floors   INTEGER,
			district VARCHAR
		)`); err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO result_buildings VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range buildings {
		district := b.District
		if district == "" {
			district = UnknownDistrict
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.Area, b.Floors, district); err != nil {
			return err
		}
	}
	return tx.Commit()
}
