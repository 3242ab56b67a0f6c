package repository

import (
	"encoding/base64"
	"fmt"
)

// Cursor marks the last item of a page: its timestamp and id.
type Cursor struct {
	Timestamp int64
	ID        string
}

func encodeCursor(timestamp int64, id string) string {
	cursorStr := fmt.Sprintf("%d:%s", timestamp, id)
	return base64.StdEncoding.EncodeToString([]byte(cursorStr))
}

func decodeCursor(cursor string) (*Cursor, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}

	var timestamp int64
	var id string
	if _, err := fmt.Sscanf(string(decoded), "%d:%s", &timestamp, &id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("cursor has no id")
	}

	return &Cursor{Timestamp: timestamp, ID: id}, nil
}
