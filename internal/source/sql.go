package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/document"
)

// Column describes how one result column becomes a field.
type Column struct {
	Type    document.FieldType
	Faceted bool
}

// SQL indexes the rows of a query, one document per row. Columns not in
// the mapping are ignored; NULL values produce no field.
type SQL struct {
	DB      *sql.DB
	Query   string
	Columns map[string]Column
}

// NewSQL builds a SQL source from a column name to field type mapping, as
// found in configuration. Columns listed in facets are also faceted.
func NewSQL(db *sql.DB, query string, columns map[string]string, facets []string) (*SQL, error) {
	mapped := make(map[string]Column, len(columns))
	for name, typ := range columns {
		ft, err := document.ParseFieldType(typ)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		mapped[name] = Column{Type: ft}
	}
	for _, name := range facets {
		c, ok := mapped[name]
		if !ok {
			c = Column{Type: document.Keyword}
		}
		c.Faceted = true
		mapped[name] = c
	}
	return &SQL{DB: db, Query: query, Columns: mapped}, nil
}

func (s *SQL) Name() string { return "postgres" }

func (s *SQL) Load(ctx context.Context) ([]document.Document, error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("querying source rows: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var docs []document.Document
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row %d: %w", len(docs), err)
		}
		var doc document.Document
		for i, name := range names {
			col, ok := s.Columns[name]
			if !ok || values[i] == nil {
				continue
			}
			v, err := convert(values[i], col.Type)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", len(docs), name, err)
			}
			doc.Add(document.Field{
				Name:    name,
				Type:    col.Type,
				Value:   v,
				Stored:  true,
				Indexed: true,
				Faceted: col.Faceted,
			})
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return docs, nil
}

// convert maps a driver value onto the field type: int64 for Int, string
// otherwise.
func convert(v any, typ document.FieldType) (any, error) {
	if typ == document.Int {
		switch x := v.(type) {
		case int64:
			return x, nil
		case float64:
			return int64(x), nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		case string:
			return strconv.ParseInt(x, 10, 64)
		case time.Time:
			return x.Unix(), nil
		default:
			return nil, fmt.Errorf("cannot use %T as int", v)
		}
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	default:
		return fmt.Sprint(x), nil
	}
}
