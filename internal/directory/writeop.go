package directory

import (
	"fmt"
	"time"
)

// OpKind distinguishes the write shapes a batch may carry.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

// WriteOp is one entry in an atomic batch.
type WriteOp struct {
	Kind       OpKind
	Collection string
	Key        string
	Fields     Document
}

// SetOp builds a full-overwrite batch entry.
func SetOp(collection, key string, fields Document) WriteOp {
	return WriteOp{Kind: OpSet, Collection: collection, Key: key, Fields: fields}
}

// UpdateOp builds a partial-merge batch entry. The batch fails if the
// document is absent at commit time.
func UpdateOp(collection, key string, fields Document) WriteOp {
	return WriteOp{Kind: OpUpdate, Collection: collection, Key: key, Fields: fields}
}

// DeleteOp builds a document-removal batch entry.
func DeleteOp(collection, key string) WriteOp {
	return WriteOp{Kind: OpDelete, Collection: collection, Key: key}
}

// String returns the field as a string, or "" when absent or null.
func (d Document) String(field string) string {
	if s, ok := d[field].(string); ok {
		return s
	}
	return ""
}

// Int returns the field as an int, tolerating the numeric types a JSON
// round-trip can produce.
func (d Document) Int(field string) int {
	switch v := d[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// NullableString returns the field as *string, nil when absent or null.
func (d Document) NullableString(field string) *string {
	if s, ok := d[field].(string); ok {
		return &s
	}
	return nil
}

// Time returns the field as a time.Time, decoding RFC 3339 strings from
// serialized documents. Zero time when absent or unparseable.
func (d Document) Time(field string) time.Time {
	switch v := d[field].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("opkind(%d)", int(k))
	}
}
