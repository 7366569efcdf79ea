package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
)

const helpText = "🎲 *Draw bot*\n\n" +
	"/new Alice, Bob | Sword: 1, Shield: 24 - start a session (cooldowns in hours)\n" +
	"/draw - pick an item to draw, or /draw 2 for the second item\n" +
	"/status - participants, cooldowns and recent winners\n" +
	"/reset - clear this session's cooldowns\n" +
	"/cooldowns - cooldowns shared by every session\n" +
	"/history - latest winners across all sessions\n" +
	"/delete - remove the current session\n\n" +
	"Add a sound to a participant with Alice=sounds/alice.ogg"

func formatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%dm", h, m)
	}
}

func formatHours(hours float64) string {
	if !(hours <= domain.MaxCooldownHours) {
		return fmt.Sprintf("%.0fh", hours)
	}
	return formatRemaining(time.Duration(hours * float64(time.Hour)))
}

func formatCreated(session *domain.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Session ready with %d participants.\n\nItems:\n", len(session.Names))
	writeItems(&b, session.Items)
	b.WriteString("\nUse /draw to pick a winner.")
	return b.String()
}

func writeItems(b *strings.Builder, items []domain.Item) {
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s (cooldown %s)\n", i+1, item.Name, formatHours(item.CooldownHours))
	}
}

func formatDraw(result domain.DrawResult, cooldownHours float64) string {
	return fmt.Sprintf("🎉 %s wins %s!\nNext chance at %s in %s.",
		result.Winner, result.Item, result.Item, formatHours(cooldownHours))
}

func formatStatus(session *domain.Session, now time.Time) string {
	var b strings.Builder
	b.WriteString("📋 Current session\n\nParticipants:\n")
	for _, name := range session.Names {
		if session.Cooldowns.Blocks(name, now) {
			fmt.Fprintf(&b, "• %s (cooling down, %s left)\n", name, formatRemaining(session.Cooldowns[name].Sub(now)))
		} else {
			fmt.Fprintf(&b, "• %s\n", name)
		}
	}

	b.WriteString("\nItems:\n")
	writeItems(&b, session.Items)

	if len(session.History) > 0 {
		b.WriteString("\nRecent winners:\n")
		start := len(session.History) - 5
		if start < 0 {
			start = 0
		}
		for i := len(session.History) - 1; i >= start; i-- {
			h := session.History[i]
			fmt.Fprintf(&b, "• %s won %s at %s\n", h.Winner, h.ItemName, h.Timestamp.Format("Jan 2 15:04"))
		}
	}

	return b.String()
}

func formatCooldowns(cooldowns []domain.GlobalCooldown, now time.Time) string {
	if len(cooldowns) == 0 {
		return "Nobody is on a shared cooldown."
	}
	var b strings.Builder
	b.WriteString("⏳ Shared cooldowns:\n")
	for _, cd := range cooldowns {
		fmt.Fprintf(&b, "• %s: %s (%s left)\n", cd.ItemName, cd.ParticipantName, formatRemaining(cd.CooldownEnd.Sub(now)))
	}
	return b.String()
}

func formatHistory(entries []domain.GlobalHistoryEntry) string {
	if len(entries) == 0 {
		return "No draws yet."
	}
	var b strings.Builder
	b.WriteString("🏆 Latest winners:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s won %s at %s\n", e.Winner, e.ItemName, e.Timestamp.Format("Jan 2 15:04"))
	}
	return b.String()
}

// formatError turns a service error into something a chat user can act on
func formatError(err error) string {
	switch domain.CodeOf(err) {
	case domain.CodeInvalidSetup:
		return "❌ " + err.Error() + "\n\nExample: /new Alice, Bob | Sword: 1"
	case domain.CodeSessionNotFound:
		return "❌ No session yet. Start one with /new"
	case domain.CodeItemNotFound:
		return "❌ There is no such item. Check /status"
	case domain.CodeNoAvailableParticipants:
		return "⏳ Everyone is on cooldown for this item. Try later or /reset"
	case domain.CodeUnauthorized:
		return "⛔️ This session belongs to another chat"
	default:
		return "❌ Something went wrong, please try again"
	}
}
