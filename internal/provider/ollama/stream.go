package ollama

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"canopy/internal/provider"
	"canopy/pkg/logger"
)

// processStream decodes Ollama's newline-delimited JSON stream into
// provider.ChatEvent, one event per line plus a final done event.
func processStream(r io.ReadCloser) <-chan provider.ChatEvent {
	events := make(chan provider.ChatEvent)

	go func() {
		defer close(events)
		defer r.Close()

		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var resp chatResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				logger.Error().Err(err).Str("line", string(line)).Msg("failed to parse ollama stream line")
				events <- provider.ChatEvent{Type: provider.EventTypeError, Error: err}
				continue
			}

			if resp.Error != "" {
				events <- provider.ChatEvent{Type: provider.EventTypeError, Error: fmt.Errorf("ollama: %s", resp.Error)}
				return
			}

			if resp.Message.Content != "" {
				events <- provider.ChatEvent{Type: provider.EventTypeContent, Delta: resp.Message.Content}
			}

			if resp.Done {
				var usage *provider.Usage
				if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
					usage = &provider.Usage{
						PromptTokens:     resp.PromptEvalCount,
						CompletionTokens: resp.EvalCount,
						TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					}
				}
				events <- provider.ChatEvent{Type: provider.EventTypeDone, Usage: usage, FinishReason: provider.FinishReasonStop}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			events <- provider.ChatEvent{Type: provider.EventTypeError, Error: err}
		}
	}()

	return events
}
