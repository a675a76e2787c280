package store

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix_ followed by 12 random hex characters, e.g. job_3f2a9c01b7de.
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
