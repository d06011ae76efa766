package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"
)

type entryWire struct {
	Status int
	Header map[string][]string
	Body   []byte
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entryWire{
		Status: e.Status,
		Header: map[string][]string(e.Header),
		Body:   e.Body,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var w entryWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, err
	}
	return &Entry{Status: w.Status, Header: http.Header(w.Header), Body: w.Body}, nil
}
