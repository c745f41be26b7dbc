package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/furisto/batchinfer/backend/model"
)

const EntryVersion = 1

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

var (
	ErrMiss        = errors.New("cache miss")
	ErrCorrupt     = errors.New("corrupt cache entry")
	ErrInvalidTask = errors.New("invalid task name")
)

// CorruptionError reports a blob that exists but cannot be decoded. It is
// never treated as a miss.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupt
}

// Entry is the persisted envelope around a provider response. Failure
// entries carry no response, only the reason the request failed.
type Entry struct {
	Version   int                `json:"version"`
	Status    Status             `json:"status"`
	Provider  model.ProviderKind `json:"provider"`
	Model     string             `json:"model"`
	Reason    string             `json:"reason,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Response  json.RawMessage    `json:"response,omitempty"`
}

func NewSuccessEntry(provider model.ProviderKind, modelName string, completion *model.Completion) Entry {
	return Entry{
		Version:   EntryVersion,
		Status:    StatusSuccess,
		Provider:  provider,
		Model:     modelName,
		CreatedAt: time.Now().UTC(),
		Response:  completion.Body,
	}
}

func NewFailureEntry(provider model.ProviderKind, modelName string, reason string) Entry {
	return Entry{
		Version:   EntryVersion,
		Status:    StatusFailure,
		Provider:  provider,
		Model:     modelName,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// Completion returns the stored response, or nil for a failure entry.
func (e Entry) Completion() *model.Completion {
	if e.Status != StatusSuccess {
		return nil
	}
	return model.NewCompletion(e.Response)
}

// Matches reports whether the entry was produced by the given provider and
// model.
func (e Entry) Matches(provider model.ProviderKind, modelName string) bool {
	return e.Provider == provider && e.Model == modelName
}

// encodeEntry serializes entry without HTML escaping so a stored response
// keeps the exact bytes the provider sent.
func encodeEntry(entry Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, err
	}

	if entry.Version != EntryVersion {
		return Entry{}, fmt.Errorf("unsupported entry version %d", entry.Version)
	}

	switch entry.Status {
	case StatusSuccess:
		if !json.Valid(entry.Response) {
			return Entry{}, errors.New("success entry without a valid response")
		}
	case StatusFailure:
	default:
		return Entry{}, fmt.Errorf("unknown entry status %q", entry.Status)
	}

	return entry, nil
}
