package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"canopy/internal/broadcast"
	"canopy/internal/limiter"
	"canopy/internal/livesession"
	"canopy/internal/provider"
	"canopy/internal/provider/local"
	"canopy/internal/sequencer"
	"canopy/internal/transport"
)

// NewDemoCmd creates the demo command: a one-shot, HTTP-less run of a
// single live session against the local echo provider, for trying the
// runtime without a gateway or a model daemon.
func NewDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo [message]",
		Short: "Run one message through a live session on stdout",
		Long: `Run one message through a live session using the built-in local
provider, printing the streamed thinking and response deltas to stdout.

No gateway, database, or external model daemon is involved; this is for
trying the agent loop directly from the terminal.`,
		Example: `  canopy demo "what can you do?"`,
		Args:    cobra.ArbitraryArgs,
		RunE:    runDemo,
	}
	return cmd
}

// stdoutTransport implements broadcast.Transport by rendering each
// outbound event to the terminal and signaling done when it sees a
// completed agent response or an error.
type stdoutTransport struct {
	done     chan struct{}
	finished bool
	printed  int // length of the response text already written
}

func (t *stdoutTransport) finish() {
	if !t.finished {
		t.finished = true
		close(t.done)
	}
}

func (t *stdoutTransport) Send(event any) error {
	msg, ok := event.(transport.OutboundMessage)
	if !ok {
		return nil
	}

	payload, _ := msg.Payload.(map[string]any)

	switch msg.Tag {
	case transport.TagAgentThinking:
		if text, _ := payload["content"].(string); text != "" {
			fmt.Printf("\r  thinking: %s", text)
		}
	case transport.TagAgentResponse:
		// content carries the whole response so far; print only what is new.
		content, _ := payload["content"].(string)
		if len(content) > t.printed {
			fmt.Print(content[t.printed:])
			t.printed = len(content)
		}
		if complete, _ := payload["isComplete"].(bool); complete {
			fmt.Println()
			t.finish()
		}
	case transport.TagError:
		message, _ := payload["message"].(string)
		fmt.Printf("\nerror: %s\n", message)
		t.finish()
	}
	return nil
}

func runDemo(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if message == "" {
		message = "hello"
	}

	providers := provider.NewPool(func(model string) (provider.Provider, error) {
		return local.New(), nil
	})
	providers.SetDefault("chat", local.ModelName)

	center := broadcast.New()
	ephemeral := limiter.NewSemaphore(4)
	seq := sequencer.New(256)

	ls, err := livesession.New("demo", nil, providers, ephemeral, nil, center, seq, local.ModelName)
	if err != nil {
		return fmt.Errorf("start demo session: %w", err)
	}
	defer ls.Cleanup()

	connID := uuid.New().String()
	out := &stdoutTransport{done: make(chan struct{})}
	center.Subscribe(connID, out, ls.ID)
	defer center.Unsubscribe(connID)

	fmt.Printf("you said: %s\n\n", message)
	ls.Route(connID, transport.InboundMessage{
		Tag:       transport.TagUserMessage,
		MessageID: uuid.New().String(),
		Content:   message,
	})

	select {
	case <-out.done:
	case <-time.After(10 * time.Second):
		return fmt.Errorf("demo session did not complete within 10s")
	}

	return nil
}
