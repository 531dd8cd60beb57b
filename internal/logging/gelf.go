package logging

import (
	"fmt"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGelfHandler returns a slog handler shipping records to a Graylog
// endpoint over GELF/UDP. Records are JSON-encoded; the gelf writer
// chunks and compresses them.
func NewGelfHandler(address string, level slog.Level) (slog.Handler, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, fmt.Errorf("dialing graylog at %s: %w", address, err)
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
}
