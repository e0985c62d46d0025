package engine

import (
	"bytes"
	"encoding/gob"

	"github.com/watchpost/watchpost/pkg/watchpost/result"
)

// encodeResults/decodeResults give the cache layer a self-describing
// envelope for a poll's result sequence, the same gob approach
// pkg/watchpost/storage's disk back-end uses for its on-disk entries.
func encodeResults(results []result.ExecutionResult) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(results); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeResults(data []byte) ([]result.ExecutionResult, error) {
	var results []result.ExecutionResult
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&results); err != nil {
		return nil, err
	}
	return results, nil
}
