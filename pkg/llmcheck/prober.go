// Package llmcheck probes LLM assistants for business visibility: given a
// customer-style question, it asks the model for recommendations and
// reports whether (and where) the target business is mentioned.
package llmcheck

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 1024

	systemPrompt = "You are a local business assistant. Answer with a numbered list " +
		"of specific recommended businesses, one per line, most relevant first. " +
		"No commentary before or after the list."
)

// Mention is one visibility observation: whether the business was named in
// the assistant's answer and at which list position.
type Mention struct {
	Mentioned bool
	Rank      *int // 1-based list position, set only when mentioned
}

// Prober asks one LLM provider a visibility question.
type Prober interface {
	// Name identifies the provider (used as the result key).
	Name() string
	// Probe asks the question and looks for the business in the answer.
	Probe(ctx context.Context, question, businessName string) (*Mention, error)
}

// Option configures the Anthropic prober.
type Option func(*anthropicProber)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(p *anthropicProber) {
		p.model = model
	}
}

type anthropicProber struct {
	client sdk.Client
	model  string
}

// NewAnthropic creates a Prober backed by the Anthropic API.
func NewAnthropic(apiKey string, opts ...Option) Prober {
	p := &anthropicProber{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *anthropicProber) Name() string { return "anthropic" }

func (p *anthropicProber) Probe(ctx context.Context, question, businessName string) (*Mention, error) {
	if question == "" {
		return nil, eris.New("llmcheck: empty question")
	}
	if businessName == "" {
		return nil, eris.New("llmcheck: missing business name")
	}

	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: defaultMaxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(question)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "llmcheck: create message")
	}

	var answer strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			answer.WriteString(block.Text)
			answer.WriteString("\n")
		}
	}

	return ParseMention(answer.String(), businessName), nil
}

// ParseMention scans a numbered-list answer for the business name. Rank is
// the 1-based position of the first non-empty line naming the business.
func ParseMention(answer, businessName string) *Mention {
	needle := strings.ToLower(strings.TrimSpace(businessName))
	if needle == "" {
		return &Mention{}
	}

	rank := 0
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rank++
		if strings.Contains(strings.ToLower(line), needle) {
			r := rank
			return &Mention{Mentioned: true, Rank: &r}
		}
	}
	return &Mention{}
}
