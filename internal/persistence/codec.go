package persistence

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// encodeJSON serializes v for a TEXT column. nil values, including nil
// maps and slices, are stored as SQL NULL.
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode column: %w", err)
	}
	if bytes.Equal(data, []byte("null")) {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeJSON is the inverse of encodeJSON. A NULL column yields the zero T.
func decodeJSON[T any](col sql.NullString) (T, error) {
	var v T
	if !col.Valid || col.String == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return v, fmt.Errorf("decode column: %w", err)
	}
	return v, nil
}

// Times are stored as UTC unix nanoseconds so both dialects compare them
// numerically.

func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func encodeTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: encodeTime(*t), Valid: true}
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func decodeTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := decodeTime(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
