package bubble

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EncodeLines renders payloads as compact JSON objects joined by "\n", without a trailing newline.
func EncodeLines(payloads []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range payloads {
		line, err := json.Marshal(payloadOrEmpty(p))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}
	return buf.Bytes(), nil
}

// DecodeLines splits raw on "\n", drops blank lines and decodes each remaining line on its own.
// Any undecodable line fails the whole batch since positions can no longer be trusted.
func DecodeLines(raw []byte) ([]Record, error) {
	out := []Record{}
	for i, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		if rec == nil {
			rec = Record{}
		}
		out = append(out, rec)
	}
	return out, nil
}
