package repositories

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Property readers for query records. A missing or null value yields the
// zero value (or def); a value of the wrong type is an error.

func recordString(rec *neo4j.Record, key string) (string, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string, got %T", key, v)
	}
	return s, nil
}

func recordInt(rec *neo4j.Record, key string) (int, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("%s: expected integer, got %T", key, v)
}

func recordFloat(rec *neo4j.Record, key string) (float64, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%s: expected number, got %T", key, v)
}

func recordBool(rec *neo4j.Record, key string, def bool) (bool, error) {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: expected bool, got %T", key, v)
	}
	return b, nil
}
