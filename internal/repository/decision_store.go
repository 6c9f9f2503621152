package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/domain/repository"
)

const defaultDecisionsTable = "alpha_decisions"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// CHDecisionStore writes blended decisions to ClickHouse. Attribution,
// weights and the contributing signals are stored as JSON strings.
type CHDecisionStore struct {
	db    *sql.DB
	table string
}

func NewCHDecisionStore(db *sql.DB, table string) (*CHDecisionStore, error) {
	if table == "" {
		table = defaultDecisionsTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", models.ErrConfiguration, table)
	}
	return &CHDecisionStore{db: db, table: table}, nil
}

func (s *CHDecisionStore) Name() string { return "clickhouse" }

// Init creates the decisions table if it does not exist.
func (s *CHDecisionStore) Init(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts DateTime64(3, 'UTC'),
	id String,
	symbol LowCardinality(String),
	signal Float64,
	confidence Float64,
	contributors UInt16,
	attribution String,
	weights String,
	signals String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *CHDecisionStore) Deliver(ctx context.Context, d *models.BlendedSignal) error {
	attribution, err := json.Marshal(d.Attribution)
	if err != nil {
		return err
	}
	weights, err := json.Marshal(d.Weights)
	if err != nil {
		return err
	}
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return err
	}

	q := fmt.Sprintf("INSERT INTO %s (ts, id, symbol, signal, confidence, contributors, attribution, weights, signals) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table)
	_, err = s.db.ExecContext(ctx, q,
		d.Timestamp.UTC(),
		d.ID,
		d.Symbol,
		d.Signal,
		d.Confidence,
		uint16(len(d.Signals)),
		string(attribution),
		string(weights),
		string(signals),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Recent returns the latest decisions for symbol, newest first.
func (s *CHDecisionStore) Recent(ctx context.Context, symbol string, limit int) ([]*models.BlendedSignal, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := fmt.Sprintf("SELECT ts, id, symbol, signal, confidence, attribution, weights, signals FROM %s WHERE symbol = ? ORDER BY ts DESC LIMIT ?", s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []*models.BlendedSignal
	for rows.Next() {
		var (
			d                             models.BlendedSignal
			attribution, weights, signals string
		)
		if err := rows.Scan(&d.Timestamp, &d.ID, &d.Symbol, &d.Signal, &d.Confidence, &attribution, &weights, &signals); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if err := unmarshalColumns(&d, attribution, weights, signals); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *CHDecisionStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func unmarshalColumns(d *models.BlendedSignal, attribution, weights, signals string) error {
	if err := json.Unmarshal([]byte(attribution), &d.Attribution); err != nil {
		return fmt.Errorf("decode attribution: %w", err)
	}
	if err := json.Unmarshal([]byte(weights), &d.Weights); err != nil {
		return fmt.Errorf("decode weights: %w", err)
	}
	if signals != "" && signals != "null" {
		if err := json.Unmarshal([]byte(signals), &d.Signals); err != nil {
			return fmt.Errorf("decode signals: %w", err)
		}
	}
	return nil
}

var _ repository.DecisionStore = (*CHDecisionStore)(nil)
