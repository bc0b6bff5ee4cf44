package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is a keyset pagination position: the epoch and id of the last row
// of the previous page. Pages walk strictly downward in (epoch, id).
type Cursor struct {
	Epoch int64
	ID    int64
}

// EncodeCursor renders a cursor as base64url("epoch:id").
func EncodeCursor(c Cursor) string {
	return base64.RawURLEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%d:%d", c.Epoch, c.ID)))
}

// DecodeCursor parses a cursor. Malformed, empty or non-positive input
// decodes to nil, which callers treat as "no cursor".
func DecodeCursor(s string) *Cursor {
	if s == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	epochStr, idStr, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil || epoch <= 0 {
		return nil
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &Cursor{Epoch: epoch, ID: id}
}
