// Package transcript provides tail access to JSONL session transcripts.
// The stop hook only ever inspects the final record, so reads are bounded
// to the last non-empty line regardless of transcript size.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// maxLineBytes caps the scanner buffer; transcript records can carry large
// tool outputs.
const maxLineBytes = 4 * 1024 * 1024

// record mirrors the subset of a transcript entry we care about: the
// message content blocks of the final assistant turn.
type record struct {
	Timestamp string `json:"timestamp,omitempty"`
	Message   struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Tail returns the text of the transcript's final record. A missing or
// unreadable transcript yields an empty string and an error the caller may
// treat as "no completion detected". When the last line is not valid JSON
// the raw line is returned so completion markers in plain-text transcripts
// still surface.
func Tail(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var last string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to scan transcript: %w", err)
	}
	if last == "" {
		return "", nil
	}

	return extractText(last), nil
}

// extractText pulls the concatenated text blocks out of a JSONL record,
// falling back to the raw line when it does not parse.
func extractText(line string) string {
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return line
	}

	var parts []string
	for i := range rec.Message.Content {
		block := &rec.Message.Content[i]
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return line
	}
	return strings.Join(parts, "\n")
}
