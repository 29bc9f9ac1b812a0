package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ddunnock/mnemosyne/internal/provider"
)

// summarizer is the slice of the provider surface memory compaction
// needs.
type summarizer interface {
	Chat(ctx context.Context, messages []provider.Message, opts provider.Options) (*provider.Response, error)
}

// Memory is the bounded conversation history of one session.
//
// When the history exceeds maxMessages, the oldest summaryBlock messages
// are folded into a single system note. Summarization goes through the
// agent's own provider; if that call fails a mechanical digest keeps the
// conversation usable rather than losing the block outright.
type Memory struct {
	mu           sync.Mutex
	summary      string // rolling summary of compacted history
	messages     []provider.Message
	maxMessages  int
	summaryBlock int
}

// NewMemory creates a memory bounded to maxMessages, folding
// summaryBlock messages per compaction.
func NewMemory(maxMessages, summaryBlock int) *Memory {
	if maxMessages < 2 {
		maxMessages = 2
	}
	if summaryBlock < 1 {
		summaryBlock = 1
	}
	if summaryBlock > maxMessages {
		summaryBlock = maxMessages / 2
	}
	return &Memory{maxMessages: maxMessages, summaryBlock: summaryBlock}
}

// Append records a conversation message.
func (m *Memory) Append(msg provider.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// Messages returns the history to replay: the rolling summary (if any)
// as a system note, then the retained messages.
func (m *Memory) Messages() []provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]provider.Message, 0, len(m.messages)+1)
	if m.summary != "" {
		out = append(out, provider.Message{
			Role:    provider.RoleSystem,
			Content: "Summary of earlier conversation: " + m.summary,
		})
	}
	out = append(out, m.messages...)
	return out
}

// Len returns the number of retained messages, excluding the summary.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Compact folds the oldest block into the rolling summary when the
// history exceeds its bound. No-op otherwise.
func (m *Memory) Compact(ctx context.Context, llm summarizer) {
	m.mu.Lock()
	if len(m.messages) <= m.maxMessages {
		m.mu.Unlock()
		return
	}
	block := make([]provider.Message, m.summaryBlock)
	copy(block, m.messages[:m.summaryBlock])
	prior := m.summary
	m.mu.Unlock()

	summary := m.summarize(ctx, llm, prior, block)

	m.mu.Lock()
	m.summary = summary
	m.messages = m.messages[m.summaryBlock:]
	m.mu.Unlock()
}

func (m *Memory) summarize(ctx context.Context, llm summarizer, prior string, block []provider.Message) string {
	if llm != nil {
		var b strings.Builder
		b.WriteString("Summarize this conversation fragment in a few sentences, keeping facts, decisions and open questions. ")
		if prior != "" {
			b.WriteString("Fold it into the existing summary.\n\nExisting summary:\n")
			b.WriteString(prior)
		}
		b.WriteString("\n\nFragment:\n")
		b.WriteString(renderTranscript(block))

		resp, err := llm.Chat(ctx, []provider.Message{
			{Role: provider.RoleUser, Content: b.String()},
		}, provider.Options{MaxTokens: 400})
		if err == nil && resp.Text != "" {
			return strings.TrimSpace(resp.Text)
		}
	}
	return mechanicalDigest(prior, block)
}

// mechanicalDigest is the fallback when the summarization call fails:
// first lines of each message, prefixed by role.
func mechanicalDigest(prior string, block []provider.Message) string {
	var b strings.Builder
	if prior != "" {
		b.WriteString(prior)
		b.WriteString(" ")
	}
	for _, msg := range block {
		line := firstLine(msg.Content)
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s ", msg.Role, truncateLine(line, 120))
	}
	return strings.TrimSpace(b.String())
}

func renderTranscript(block []provider.Message) string {
	var b strings.Builder
	for _, msg := range block {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncateLine(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
