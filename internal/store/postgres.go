package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store against a pooled PostgreSQL connection.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings, then ensures the nodes table exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id                   BIGSERIAL PRIMARY KEY,
	name                 TEXT NOT NULL DEFAULT '',
	host                 TEXT NOT NULL,
	port                 INTEGER NOT NULL,
	protocol             TEXT NOT NULL,
	username             TEXT NOT NULL DEFAULT '',
	password             TEXT NOT NULL DEFAULT '',
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	is_healthy           BOOLEAN NOT NULL DEFAULT TRUE,
	response_time_ms     DOUBLE PRECISION NOT NULL DEFAULT 0,
	success_rate         DOUBLE PRECISION NOT NULL DEFAULT 100,
	weight               INTEGER NOT NULL DEFAULT 1,
	max_connections      INTEGER NOT NULL DEFAULT 100,
	current_connections  INTEGER NOT NULL DEFAULT 0,
	country              TEXT NOT NULL DEFAULT '',
	region               TEXT NOT NULL DEFAULT '',
	tags                 TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_check           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_nodes_id ON nodes (id);
`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

const selectColumns = `id, name, host, port, protocol, username, password, is_active, is_healthy,
	response_time_ms, success_rate, weight, max_connections, current_connections,
	country, region, tags, created_at, updated_at, last_check`

func scanNode(row pgx.Row) (*Node, error) {
	var n Node
	var port int
	var protocol string
	err := row.Scan(
		&n.ID, &n.Name, &n.Host, &port, &protocol, &n.Username, &n.Password,
		&n.IsActive, &n.IsHealthy, &n.ResponseTimeMS, &n.SuccessRate, &n.Weight,
		&n.MaxConnections, &n.CurrentConnections, &n.Country, &n.Region, &n.Tags,
		&n.CreatedAt, &n.UpdatedAt, &n.LastCheck,
	)
	if err != nil {
		return nil, err
	}
	n.Port = uint16(port)
	n.Protocol = Protocol(protocol)
	return &n, nil
}

func (s *PostgresStore) Create(ctx context.Context, n *Node) (*Node, error) {
	weight := n.Weight
	if weight < 1 {
		weight = 1
	}
	maxConn := n.MaxConnections
	if maxConn < 1 {
		maxConn = 1
	}

	query := `
INSERT INTO nodes (name, host, port, protocol, username, password, is_active, is_healthy,
	response_time_ms, success_rate, weight, max_connections, current_connections,
	country, region, tags, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NOW(),NOW())
RETURNING ` + selectColumns

	row := s.pool.QueryRow(ctx, query,
		n.Name, n.Host, int(n.Port), string(n.Protocol), n.Username, n.Password,
		n.IsActive, n.IsHealthy, n.ResponseTimeMS, n.SuccessRate, weight, maxConn,
		n.CurrentConnections, n.Country, n.Region, n.Tags,
	)
	return scanNode(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Node, error) {
	query := `SELECT ` + selectColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// List applies Filters conjunctively, ordered by id for deterministic
// pagination, then skip/limit.
func (s *PostgresStore) List(ctx context.Context, f Filters, skip, limit int) ([]*Node, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.IsActive != nil {
		where = append(where, "is_active = "+arg(*f.IsActive))
	}
	if f.IsHealthy != nil {
		where = append(where, "is_healthy = "+arg(*f.IsHealthy))
	}
	if f.Protocol != nil {
		where = append(where, "protocol = "+arg(string(*f.Protocol)))
	}
	if f.Country != nil {
		where = append(where, "country = "+arg(*f.Country))
	}
	if f.Search != nil && *f.Search != "" {
		p := arg("%" + *f.Search + "%")
		where = append(where, fmt.Sprintf("(host LIKE %s OR name LIKE %s OR tags LIKE %s)", p, p, p))
	}

	query := `SELECT ` + selectColumns + ` FROM nodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}
	if skip > 0 {
		query += " OFFSET " + arg(skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, id int64, p Patch) (*Node, error) {
	var sets []string
	var args []interface{}
	set := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Name != nil {
		set("name", *p.Name)
	}
	if p.Host != nil {
		set("host", *p.Host)
	}
	if p.Port != nil {
		set("port", int(*p.Port))
	}
	if p.Protocol != nil {
		set("protocol", string(*p.Protocol))
	}
	if p.Username != nil {
		set("username", *p.Username)
	}
	if p.Password != nil {
		set("password", *p.Password)
	}
	if p.IsActive != nil {
		set("is_active", *p.IsActive)
	}
	if p.IsHealthy != nil {
		set("is_healthy", *p.IsHealthy)
	}
	if p.ResponseTimeMS != nil {
		v := *p.ResponseTimeMS
		if v < 0 {
			v = 0
		}
		set("response_time_ms", v)
	}
	if p.SuccessRate != nil {
		set("success_rate", ClampSuccessRate(*p.SuccessRate))
	}
	if p.Weight != nil {
		v := *p.Weight
		if v < 1 {
			v = 1
		}
		set("weight", v)
	}
	if p.MaxConnections != nil {
		v := *p.MaxConnections
		if v < 1 {
			v = 1
		}
		set("max_connections", v)
	}
	if p.CurrentConnections != nil {
		v := *p.CurrentConnections
		if v < 0 {
			v = 0
		}
		set("current_connections", v)
	}
	if p.Country != nil {
		set("country", *p.Country)
	}
	if p.Region != nil {
		set("region", *p.Region)
	}
	if p.Tags != nil {
		set("tags", *p.Tags)
	}
	if p.LastCheck != nil {
		set("last_check", *p.LastCheck)
	}

	if len(sets) == 0 {
		return s.GetByID(ctx, id)
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE nodes SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), selectColumns)

	n, err := scanNode(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{ByProtocol: make(map[Protocol]int), ByCountry: make(map[string]int)}

	row := s.pool.QueryRow(ctx, `
SELECT
	COUNT(*),
	COUNT(*) FILTER (WHERE is_active),
	COUNT(*) FILTER (WHERE is_active AND is_healthy),
	COALESCE(AVG(response_time_ms) FILTER (WHERE is_active AND is_healthy), 0)
FROM nodes`)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.HealthyAndActive, &stats.MeanResponseTimeMS); err != nil {
		return Stats{}, err
	}

	protoRows, err := s.pool.Query(ctx, `SELECT protocol, COUNT(*) FROM nodes GROUP BY protocol`)
	if err != nil {
		return Stats{}, err
	}
	for protoRows.Next() {
		var p string
		var c int
		if err := protoRows.Scan(&p, &c); err != nil {
			protoRows.Close()
			return Stats{}, err
		}
		stats.ByProtocol[Protocol(p)] = c
	}
	protoRows.Close()
	if err := protoRows.Err(); err != nil {
		return Stats{}, err
	}

	countryRows, err := s.pool.Query(ctx, `SELECT country, COUNT(*) FROM nodes WHERE country != '' GROUP BY country`)
	if err != nil {
		return Stats{}, err
	}
	for countryRows.Next() {
		var c string
		var n int
		if err := countryRows.Scan(&c, &n); err != nil {
			countryRows.Close()
			return Stats{}, err
		}
		stats.ByCountry[c] = n
	}
	countryRows.Close()
	return stats, countryRows.Err()
}

func (s *PostgresStore) IncrementConnections(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET current_connections = current_connections + 1, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) DecrementConnections(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET current_connections = GREATEST(current_connections - 1, 0), updated_at = NOW() WHERE id = $1`, id)
	return err
}
