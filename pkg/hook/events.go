package hook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// maxPromptBytes rejects extractions that swallowed far more than a task
// prompt plausibly is (e.g. a greedy fallback capturing the whole payload).
const maxPromptBytes = 100 * 1024

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// flexInt unmarshals from a JSON number or a quoted number; host payloads
// are not consistent about which they send.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to parse quoted integer: %w", err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("failed to parse integer %q: %w", s, err)
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("failed to parse integer: %w", err)
	}
	*f = flexInt(n)
	return nil
}

// loopFields are the loop parameters a tool-invocation event may carry,
// either at the top level or nested under tool_input.
type loopFields struct {
	Prompt            string  `json:"prompt"`
	MaxIterations     flexInt `json:"max_iterations"`
	CompletionPromise string  `json:"completion_promise"`
}

type invokeEvent struct {
	loopFields
	ToolInput *loopFields `json:"tool_input"`
}

type promptEvent struct {
	Prompt string `json:"prompt"`
}

type stopEvent struct {
	TranscriptPath string `json:"transcript_path"`
}

// InvokeParams are the sanitized loop parameters extracted from a
// tool-invocation event, with defaults applied.
type InvokeParams struct {
	Prompt        string
	MaxIterations int
	Promise       string
}

// parseInvoke extracts loop parameters from a tool-invocation payload.
// Missing fields get defaults; an empty or implausible prompt means the
// event is not a loop invocation.
func parseInvoke(payload []byte, defaultMax int, defaultPromise string) (InvokeParams, error) {
	var event invokeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return InvokeParams{}, fmt.Errorf("failed to parse invocation payload: %w", err)
	}

	fields := event.loopFields
	if event.ToolInput != nil && event.ToolInput.Prompt != "" {
		fields = *event.ToolInput
	}

	params := InvokeParams{
		Prompt:        sanitizePrompt(fields.Prompt, payload),
		MaxIterations: int(fields.MaxIterations),
		Promise:       strings.TrimSpace(ansiPattern.ReplaceAllString(fields.CompletionPromise, "")),
	}
	if params.MaxIterations == 0 {
		params.MaxIterations = defaultMax
	}
	if params.Promise == "" {
		params.Promise = defaultPromise
	}
	return params, nil
}

// parsePrompt extracts a replacement task prompt from a prompt-update
// payload. Empty means "nothing to update".
func parsePrompt(payload []byte) string {
	var event promptEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ""
	}
	return sanitizePrompt(event.Prompt, payload)
}

// parseTranscriptPath extracts the transcript path from a stop payload.
func parseTranscriptPath(payload []byte) string {
	var event stopEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ""
	}
	return strings.TrimSpace(event.TranscriptPath)
}

// sanitizePrompt strips ANSI escapes and rejects extractions that are
// oversized or byte-equal to the entire payload.
func sanitizePrompt(raw string, payload []byte) string {
	prompt := strings.TrimSpace(ansiPattern.ReplaceAllString(raw, ""))
	if prompt == "" {
		return ""
	}
	if len(prompt) > maxPromptBytes {
		return ""
	}
	if prompt == strings.TrimSpace(string(payload)) {
		return ""
	}
	return prompt
}
