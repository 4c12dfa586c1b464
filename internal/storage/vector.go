package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// EncodeEmbedding renders a float32 embedding in pgvector's text input
// format: "[0.1,0.2,...]". An empty embedding encodes to SQL NULL so rows
// can be inserted before a vector is available (e.g. while queued for
// embedding).
func EncodeEmbedding(embedding []float32) sql.NullString {
	if len(embedding) == 0 {
		return sql.NullString{}
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sql.NullString{String: sb.String(), Valid: true}
}

// DecodeEmbedding parses pgvector's text output format back into a float32
// slice. An empty or malformed string decodes to nil rather than erroring,
// since callers treat a missing embedding as "not yet indexed".
func DecodeEmbedding(s string) []float32 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out[i] = float32(f)
	}
	return out
}

// NullString converts an empty Go string to SQL NULL, matching the
// convention used across every insert/update path in this package.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// FormatUUIDArray renders a slice of UUID-like stringers as a Postgres
// array literal, e.g. {id1,id2}, for columns typed UUID[].
func FormatUUIDArray(ids []fmt.Stringer) string {
	if len(ids) == 0 {
		return "{}"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
