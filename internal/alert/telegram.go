package alert

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"portfolioDash/internal/portfolio"
)

// Notifier pushes rebalance alerts to a Telegram chat. It is optional: a nil
// Notifier is a no-op, and send failures are logged rather than surfaced.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

func NewNotifier(token string, chatID int64, logger zerolog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		log:    logger.With().Str("component", "alert").Logger(),
	}, nil
}

// RebalanceAlert sends a one-line-per-symbol drift summary when the report
// flags a rebalance.
func (n *Notifier) RebalanceAlert(report portfolio.RebalanceReport) {
	if n == nil || !report.RebalanceNeeded {
		return
	}

	symbols := make([]string, 0, len(report.Drift))
	for symbol := range report.Drift {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var b strings.Builder
	b.WriteString("Portfolio requires rebalancing\n")
	for _, symbol := range symbols {
		fmt.Fprintf(&b, "%s: current %.1f%%, target %.1f%%, drift %+.1f%%\n",
			symbol,
			report.CurrentWeights[symbol]*100,
			report.TargetWeights[symbol]*100,
			report.Drift[symbol]*100)
	}

	msg := tgbotapi.NewMessage(n.chatID, b.String())
	if _, err := n.bot.Send(msg); err != nil {
		n.log.Warn().Err(err).Msg("failed to send rebalance alert")
		return
	}
	n.log.Info().Int("symbols", len(symbols)).Msg("rebalance alert sent")
}
