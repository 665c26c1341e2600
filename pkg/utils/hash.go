package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

func HashBytes(input []byte) string {
	hash := sha256.Sum256(input)
	return hex.EncodeToString(hash[:])
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}

// HashCanonicalJSON hashes a JSON document after normalizing it: object
// keys sorted, no insignificant whitespace. Two payloads that differ only
// in key order or formatting hash identically, which makes run input
// hashes stable across submissions.
func HashCanonicalJSON(raw json.RawMessage) (string, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode payload: %w", err)
	}

	var sb strings.Builder
	if err := writeCanonical(&sb, decoded); err != nil {
		return "", err
	}
	return HashString(sb.String()), nil
}

func writeCanonical(sb *strings.Builder, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(keyJSON)
			sb.WriteByte(':')
			if err := writeCanonical(sb, v[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []interface{}:
		sb.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(encoded)
	}
	return nil
}
