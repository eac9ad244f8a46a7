package notify

import (
	"fmt"
	"strings"

	"signal-tracker/internal/models"
	"signal-tracker/pkg/utils"
)

// RenderEntry builds the alert announcing a new position.
func RenderEntry(p *models.Position, chartURL string) Message {
	emoji := "🟢"
	if p.Direction == models.Short {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s %s Entry for %s*\n\n", emoji, p.Direction.Title(), p.Symbol)
	fmt.Fprintf(&b, "*Entry:* `%s`\n", utils.FormatPrice(p.EntryPrice))
	fmt.Fprintf(&b, "*Stop Loss:* `%s`\n", utils.FormatPrice(p.StopLoss))
	b.WriteString("*Take Profits:*")
	for i, tp := range p.TakeProfits {
		fmt.Fprintf(&b, "\n  - TP%d: `%s`", i+1, utils.FormatPrice(tp))
	}

	return Message{
		Kind:     KindEntry,
		Symbol:   p.Symbol,
		Text:     b.String(),
		Format:   FormatMarkdown,
		ChartURL: chartURL,
	}
}

// RenderTakeProfit builds the reply sent when price reaches TP1.
func RenderTakeProfit(p *models.Position, price float64) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "💸 *%s TP1 Hit!* (%s from entry)\n\n", p.Symbol, utils.FormatPercent(p.GainPercent(price)))
	fmt.Fprintf(&b, "*Entry:* `%s`\n", utils.FormatPrice(p.EntryPrice))
	fmt.Fprintf(&b, "*TP1:* `%s`\n", utils.FormatPrice(p.TP1()))
	fmt.Fprintf(&b, "*Current Price:* `%s`\n", utils.FormatPrice(price))
	b.WriteString("Consider moving *Stop Loss* to *Break Even* Point to minimize potential loss.\n\n")
	b.WriteString("*Next TP Targets:*\n")
	fmt.Fprintf(&b, "  - *TP2:* `%s`\n", utils.FormatPrice(p.TakeProfits[1]))
	fmt.Fprintf(&b, "  - *TP3:* `%s`", utils.FormatPrice(p.TakeProfits[2]))

	return Message{
		Kind:    KindTakeProfit,
		Symbol:  p.Symbol,
		Text:    b.String(),
		Format:  FormatMarkdown,
		ReplyTo: p.MessageRef,
	}
}

// RenderStopLoss builds the reply sent when price breaches the stop.
func RenderStopLoss(p *models.Position, price float64) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *%s Stop Loss Hit!* 🚨\n\n", p.Symbol)
	fmt.Fprintf(&b, "*Entry:* `%s`\n", utils.FormatPrice(p.EntryPrice))
	fmt.Fprintf(&b, "*Stop Loss:* `%s`\n", utils.FormatPrice(p.StopLoss))
	fmt.Fprintf(&b, "*Current Price:* `%s`", utils.FormatPrice(price))

	return Message{
		Kind:    KindStopLoss,
		Symbol:  p.Symbol,
		Text:    b.String(),
		Format:  FormatMarkdown,
		ReplyTo: p.MessageRef,
	}
}

// RenderUntracked builds the reply sent when an entry alert went out but the
// position could not be recorded, so no follow-ups will come.
func RenderUntracked(p *models.Position) Message {
	return Message{
		Kind:    KindUntracked,
		Symbol:  p.Symbol,
		Text:    fmt.Sprintf("⚠️ *%s %s not tracked*\n\nThe position could not be saved. No TP or stop-loss updates will follow for this signal.", p.Symbol, p.Direction.Title()),
		Format:  FormatMarkdown,
		ReplyTo: p.MessageRef,
	}
}
