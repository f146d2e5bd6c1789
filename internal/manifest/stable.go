package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// StableStringify produces a canonical JSON encoding of v: object keys
// sorted alphabetically at every level, array order preserved. Two
// manifests that differ only in key order or field spacing produce the
// same string, which is what apply's revision-conflict check relies on.
func StableStringify(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("manifest: marshal for stable stringify: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("manifest: unmarshal for stable stringify: %w", err)
	}
	var buf bytes.Buffer
	if err := writeStable(&buf, decoded); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeStable(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeStable(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeStable(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		leaf, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(leaf)
	}
	return nil
}
