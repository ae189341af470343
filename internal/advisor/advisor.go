package advisor

import (
	"context"
	"fmt"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Advisor turns computed portfolio statistics into a short prose commentary.
type Advisor struct {
	cli oa.Client
}

func New(apiKey string) *Advisor {
	client := oa.NewClient(option.WithAPIKey(apiKey))
	return &Advisor{cli: client}
}

func (a *Advisor) Commentary(ctx context.Context, summary string) (string, error) {
	systemPrompt := `You are a professional financial analyst reviewing a portfolio's computed statistics.

You will receive annualized return, volatility, Sharpe/Sortino ratios, 95% VaR, weight drift versus targets, and optionally a suggested max-Sharpe allocation.

Your response must follow this structure:

**Assessment:**
[2-3 sentences on the portfolio's risk/return profile]

**Drift:**
[Whether the drift warrants rebalancing and which positions moved most]

**Suggested Allocation:**
[If an optimization suggestion is present, whether it is materially different and what it trades off]

Guidelines:
- Plain language, no hedging boilerplate
- Reference the numbers you were given, do not invent any
- This is commentary, not investment advice; do not recommend specific purchases`

	resp, err := a.cli.Chat.Completions.New(ctx, oa.ChatCompletionNewParams{
		Model: "gpt-4o",
		Messages: []oa.ChatCompletionMessageParamUnion{
			oa.SystemMessage(systemPrompt),
			oa.UserMessage(fmt.Sprintf("Portfolio statistics:\n%s", summary)),
		},
		MaxTokens: oa.Int(600),
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
