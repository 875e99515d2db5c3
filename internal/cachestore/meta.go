package cachestore

import (
	"encoding/json"
	"time"
)

// Meta is the sidecar metadata written alongside every day-file: content
// checksum, record count, write instant, and schema version, per the
// cache entry contract.
type Meta struct {
	Checksum      string    `json:"checksum"`
	RecordCount   int       `json:"record_count"`
	WrittenAt     time.Time `json:"written_at"`
	SchemaVersion uint16    `json:"schema_version"`
}

func encodeMeta(m Meta) ([]byte, error) {
	return json.Marshal(m)
}

func decodeMeta(data []byte) (Meta, error) {
	var m Meta
	err := json.Unmarshal(data, &m)
	return m, err
}
