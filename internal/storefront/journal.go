package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stremovskyy/recorder"
)

var errNotStored = errors.New("journal does not keep payloads")

// Journal is a write-only recorder.Recorder that appends one JSON line per
// record to w.
type Journal struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJournal(w io.Writer) *Journal {
	return &Journal{enc: json.NewEncoder(w)}
}

type journalEntry struct {
	At        time.Time         `json:"at"`
	Kind      string            `json:"kind"`
	RequestID string            `json:"requestId"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Error     string            `json:"error,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

func (j *Journal) write(e journalEntry) error {
	e.At = time.Now().UTC()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(e)
}

func body(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	raw, _ := json.Marshal(string(b))
	return raw
}

func (j *Journal) RecordRequest(_ context.Context, _ *string, requestID string, request []byte, tags map[string]string) error {
	return j.write(journalEntry{Kind: "request", RequestID: requestID, Body: body(request), Tags: tags})
}

func (j *Journal) RecordResponse(_ context.Context, _ *string, requestID string, response []byte, tags map[string]string) error {
	return j.write(journalEntry{Kind: "response", RequestID: requestID, Body: body(response), Tags: tags})
}

func (j *Journal) RecordError(_ context.Context, _ *string, requestID string, err error, tags map[string]string) error {
	return j.write(journalEntry{Kind: "error", RequestID: requestID, Error: err.Error(), Tags: tags})
}

func (j *Journal) RecordMetrics(_ context.Context, _ *string, requestID string, m map[string]string, tags map[string]string) error {
	return j.write(journalEntry{Kind: "metrics", RequestID: requestID, Metrics: m, Tags: tags})
}

func (j *Journal) GetRequest(context.Context, string) ([]byte, error) {
	return nil, errNotStored
}

func (j *Journal) GetResponse(context.Context, string) ([]byte, error) {
	return nil, errNotStored
}

func (j *Journal) FindByTag(context.Context, string) ([]string, error) {
	return nil, errNotStored
}

// Async is not supported.
func (j *Journal) Async() recorder.AsyncRecorder {
	return nil
}
