package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot sections persisted by the SQL stores, in write order.
var Buckets = []string{"entities", "meta", "sequence"}

// EncodeBucket marshals one snapshot section.
func EncodeBucket(snapshot Snapshot, bucket string) ([]byte, error) {
	switch bucket {
	case "entities":
		return json.Marshal(snapshot.Entities)
	case "meta":
		return json.Marshal(snapshot.Meta)
	case "sequence":
		return json.Marshal(snapshot.Sequence)
	default:
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
}

// DecodeBucket unmarshals payload into the matching snapshot section. Unknown
// buckets are ignored so older schemas keep loading.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "entities":
		target = &snapshot.Entities
	case "meta":
		target = &snapshot.Meta
	case "sequence":
		target = &snapshot.Sequence
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
