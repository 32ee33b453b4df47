package chatstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// MessageHashAlgorithmV1 identifies the canonical hash material: the message's
// wire JSON re-encoded with sorted object keys.
const MessageHashAlgorithmV1 = "sha256-canonical-json-v1"

// CanonicalMessageJSON returns the bytes hashed by ComputeMessageHash.
func CanonicalMessageJSON(m uimessage.Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ComputeMessageHash is the lowercase-hex SHA-256 of the canonical message JSON.
// Stores use it to skip rewriting rows that did not change.
func ComputeMessageHash(m uimessage.Message) (string, error) {
	b, err := CanonicalMessageJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
