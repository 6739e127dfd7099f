package audit

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCursor marks a pagination cursor that cannot be decoded. Callers
// map it to a bad-request response.
var ErrInvalidCursor = errors.New("invalid cursor")

// cursor pins the (created_at, id) of the last entry a page returned. Keyset
// pagination over this pair stays stable under concurrent inserts, unlike
// offsets.
type cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func encodeCursor(e Entry) string {
	raw, _ := json.Marshal(cursor{CreatedAt: e.CreatedAt, ID: e.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(raw string) (*cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidCursor)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c cursor
	if err := json.Unmarshal(decoded, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: incomplete", ErrInvalidCursor)
	}
	return &c, nil
}
