package messages

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var csvColumns = []string{"author", "channel", "content", "timestamp"}

// ReadCSV parses author,channel,content,timestamp rows into PENDING messages
// of the tenant and stream. A header row is optional; when present it may
// order the columns freely. Identical rows yield the same id and are
// returned once.
func ReadCSV(r io.Reader, tenant, stream string) ([]Message, error) {
	if tenant == "" || stream == "" {
		return nil, errors.New("tenant and stream are required")
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	index := map[string]int{"author": 0, "channel": 1, "content": 2, "timestamp": 3}
	width := len(csvColumns)
	var out []Message
	seen := make(map[string]bool)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isHeader(rec) {
			if index, err = headerIndex(rec); err != nil {
				return nil, err
			}
			width = 0
			for _, col := range csvColumns {
				if index[col] >= width {
					width = index[col] + 1
				}
			}
			continue
		}
		if len(rec) < width {
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, width, len(rec))
		}

		field := func(name string) string { return strings.TrimSpace(rec[index[name]]) }
		ts, err := time.Parse(time.RFC3339, field("timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp: %w", line, err)
		}

		m := Message{
			TenantID:         tenant,
			StreamID:         stream,
			Author:           field("author"),
			Channel:          field("channel"),
			Content:          rec[index["content"]],
			Timestamp:        ts.UTC(),
			ProcessingStatus: StatusPending,
		}
		m.ID = rowID(stream, m.Author, m.Channel, m.Content, field("timestamp"))
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out, nil
}

// rowID is <stream>-<first 12 hex chars of sha1 over the row's fields>.
func rowID(stream string, fields ...string) string {
	sum := sha1.Sum([]byte(strings.Join(fields, "\x1f")))
	return stream + "-" + hex.EncodeToString(sum[:])[:12]
}

func isHeader(rec []string) bool {
	for _, f := range rec {
		if strings.EqualFold(strings.TrimSpace(f), "timestamp") {
			return true
		}
	}
	return false
}

func headerIndex(rec []string) (map[string]int, error) {
	index := make(map[string]int, len(csvColumns))
	for i, f := range rec {
		index[strings.ToLower(strings.TrimSpace(f))] = i
	}
	for _, col := range csvColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("header is missing column %q", col)
		}
	}
	return index, nil
}
