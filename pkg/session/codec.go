package session

import (
	"encoding/json"
	"errors"
)

// EncodeRecord serializes rec for stores that keep opaque bytes.
func EncodeRecord(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, ErrCorruptRecord
	}
	return json.Marshal(rec)
}

// DecodeRecord parses bytes written by EncodeRecord. Undecodable input is
// reported as ErrCorruptRecord.
func DecodeRecord(raw []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	if rec.Data == nil {
		rec.Data = make(map[string]any)
	}
	return &rec, nil
}
