// Package docstore defines a small document database abstraction: documents
// addressed by collection path and id, merge-patch updates with array and
// counter transforms, filtered and ordered queries, atomic batches and
// optional push-mode subscriptions. Backends live in sub-packages.
package docstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Document is a snapshot of a stored document.
type Document struct {
	ID   string
	Data map[string]any
}

// DataTo decodes the document into a JSON-tagged struct.
func (d Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

// NewID returns a store-assigned id. Ids are UUIDv7 strings, so ids issued
// by one process sort in issue order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Path joins collection and document segments, e.g.
// Path("conversations", id, "messages").
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// SameDocuments reports whether two result sets hold the same documents in
// the same order with equal data.
func SameDocuments(a, b []Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
		if Compare(a[i].Data, b[i].Data) != 0 {
			return false
		}
	}
	return true
}
