package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// Diagnostics tables are written by the guest diagnostics pipeline, one table
// per retention period, named <prefix><period suffix>. Each row is one
// aggregated counter reading:
//
//	PartitionKey TEXT     escaped scale set ID
//	RowKey       TEXT
//	CounterName  TEXT
//	Host         TEXT     Linux node identity
//	RoleInstance TEXT     Windows node identity
//	Average      REAL
//	Timestamp    INTEGER  unix seconds
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var partitionKeyEscaper = strings.NewReplacer("/", ":002F", "-", ":002D", ".", ":002E")

// EscapePartitionKey encodes a resource ID the way diagnostics tables key
// their partitions.
func EscapePartitionKey(resourceID string) string {
	return partitionKeyEscaper.Replace(resourceID)
}

// TableStore serves samples from diagnostics tables in a SQLite database.
type TableStore struct {
	db     *sql.DB
	prefix string
	logger *slog.Logger
}

// OpenTableStore opens the database named by connectionString.
func OpenTableStore(connectionString, prefix string, logger *slog.Logger) (*TableStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("metrics: storage connection string is required")
	}
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to open table store: %w", err)
	}
	return NewTableStore(db, prefix, logger), nil
}

// NewTableStore wraps an open database.
func NewTableStore(db *sql.DB, prefix string, logger *slog.Logger) *TableStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableStore{db: db, prefix: prefix, logger: logger}
}

// LatestTable returns the newest table whose name starts with the prefix.
// Table names carry a sortable period suffix, so newest is last by name.
func (s *TableStore) LatestTable(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, ?) = ? ORDER BY name DESC LIMIT 1`,
		utf8.RuneCountInString(s.prefix), s.prefix)

	var name string
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w %q", ErrNoMetricTable, s.prefix)
		}
		return "", fmt.Errorf("metrics: failed to list tables: %w", err)
	}
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("metrics: refusing to query table with unsafe name %q", name)
	}
	return name, nil
}

// Query reads samples from the latest table.
func (s *TableStore) Query(ctx context.Context, resourceID string, counters []string, since time.Time) ([]Sample, error) {
	table, err := s.LatestTable(ctx)
	if err != nil {
		return nil, err
	}
	if len(counters) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(counters)), ",")
	query := fmt.Sprintf(
		`SELECT Host, RoleInstance, CounterName, Average, Timestamp FROM "%s" WHERE PartitionKey = ? AND Timestamp >= ? AND CounterName IN (%s)`,
		table, placeholders)

	args := make([]any, 0, len(counters)+2)
	args = append(args, EscapePartitionKey(resourceID), since.Unix())
	for _, c := range counters {
		args = append(args, c)
	}

	s.logger.Debug("querying diagnostics table", "table", table, "scale_set", resourceID)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metrics: failed to query table %s: %w", table, err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			host, role sql.NullString
			sample     Sample
			ts         int64
		)
		if err := rows.Scan(&host, &role, &sample.CounterName, &sample.Average, &ts); err != nil {
			return nil, fmt.Errorf("metrics: failed to scan row: %w", err)
		}
		sample.Host = host.String
		sample.RoleInstance = role.String
		sample.Timestamp = time.Unix(ts, 0).UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metrics: failed to read rows: %w", err)
	}
	return samples, nil
}

// Close closes the underlying database.
func (s *TableStore) Close() error {
	return s.db.Close()
}

var _ Store = (*TableStore)(nil)
