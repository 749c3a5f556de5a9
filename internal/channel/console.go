package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rooniethecat/roonie/internal/bus"
)

const consoleChannelName = "console"

// consoleEvent is one NDJSON line on stdin. Plain non-JSON lines are
// accepted too and become a direct-mention message from "operator".
type consoleEvent struct {
	EventID  string         `json:"event_id"`
	Message  string         `json:"message"`
	User     string         `json:"user"`
	Metadata map[string]any `json:"metadata"`
}

// ConsoleChannel reads NDJSON chat events from a reader (stdin by default)
// and prints replies to a writer. It exists for local operation and replay;
// live platform wiring is an external collaborator.
type ConsoleChannel struct {
	chatID string
	in     io.Reader
	out    io.Writer
	bus    *bus.MessageBus
	done   chan struct{}
}

// NewConsoleChannel builds a console adapter bound to chatID.
func NewConsoleChannel(chatID string, b *bus.MessageBus) *ConsoleChannel {
	return &ConsoleChannel{
		chatID: chatID,
		in:     os.Stdin,
		out:    os.Stdout,
		bus:    b,
		done:   make(chan struct{}),
	}
}

// NewConsoleChannelIO is NewConsoleChannel with explicit streams, for tests.
func NewConsoleChannelIO(chatID string, b *bus.MessageBus, in io.Reader, out io.Writer) *ConsoleChannel {
	ch := NewConsoleChannel(chatID, b)
	ch.in = in
	ch.out = out
	return ch
}

func (c *ConsoleChannel) Name() string { return consoleChannelName }

// Start reads lines until EOF or ctx cancellation.
func (c *ConsoleChannel) Start(ctx context.Context) error {
	defer close(c.done)
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := c.parseLine(line)
		if err != nil {
			log.Printf("[console] skip malformed line: %v", err)
			continue
		}
		select {
		case c.bus.Inbound <- msg:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console input: %w", err)
	}
	return nil
}

func (c *ConsoleChannel) parseLine(line string) (bus.InboundMessage, error) {
	msg := bus.InboundMessage{
		Channel:   consoleChannelName,
		ChatID:    c.chatID,
		Timestamp: time.Now(),
	}
	if strings.HasPrefix(line, "{") {
		var ev consoleEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return msg, fmt.Errorf("decode event: %w", err)
		}
		if strings.TrimSpace(ev.Message) == "" {
			return msg, fmt.Errorf("event without message")
		}
		if ev.EventID == "" {
			ev.EventID = uuid.NewString()
		}
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		msg.SenderID = ev.User
		msg.Content = ev.Message
		msg.Metadata = ev.Metadata
		msg.Metadata["event_id"] = ev.EventID
		if ev.User != "" {
			msg.Metadata["user"] = ev.User
		}
		return msg, nil
	}
	// Bare text is treated as the operator talking directly to the bot.
	msg.SenderID = "operator"
	msg.Content = line
	msg.Metadata = map[string]any{
		"event_id":          uuid.NewString(),
		"user":              "operator",
		"is_direct_mention": true,
	}
	return msg, nil
}

func (c *ConsoleChannel) Stop() error { return nil }

// Send prints one reply line.
func (c *ConsoleChannel) Send(msg bus.OutboundMessage) error {
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	if _, err := fmt.Fprintf(c.out, "[roonie] %s\n", msg.Content); err != nil {
		return fmt.Errorf("write console output: %w", err)
	}
	return nil
}
