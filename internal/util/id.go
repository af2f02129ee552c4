package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 with the dashes removed, prefixed with
// "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
