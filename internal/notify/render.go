package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/form4watch/signal-engine/internal/core/domain"
)

// rendered is one message body in both formats.
type rendered struct {
	Subject string
	Text    string
	HTML    string
}

const dateLayout = "Jan 2, 2006"

func renderCluster(c domain.ClusterBuySignal) rendered {
	name := issuerLabel(c.IssuerName, c.Ticker)
	subject := fmt.Sprintf("Cluster buy: %d insiders bought %s", c.TotalInsiders, name)

	var text strings.Builder

	fmt.Fprintf(&text, "%d insiders purchased %s stock around %s.\n\n",
		c.TotalInsiders, name, c.Date.Format(dateLayout))
	fmt.Fprintf(&text, "Total value: %s\n", formatUSD(c.TotalValue))
	fmt.Fprintf(&text, "Total shares: %.0f\n", c.TotalShares)
	fmt.Fprintf(&text, "Signal strength: %d/100\n", c.SignalStrength)

	if c.HasCEOBuy {
		text.WriteString("Includes a CEO purchase.\n")
	}

	if c.HasCFOBuy {
		text.WriteString("Includes a CFO purchase.\n")
	}

	if c.HasTenPercentOwner {
		text.WriteString("Includes a 10% owner.\n")
	}

	var htm strings.Builder

	fmt.Fprintf(&htm, "<h2>Cluster buy: %s</h2>", html.EscapeString(name))
	fmt.Fprintf(&htm, "<p><b>%d insiders</b> purchased stock around %s.</p><ul>",
		c.TotalInsiders, c.Date.Format(dateLayout))
	fmt.Fprintf(&htm, "<li>Total value: %s</li>", formatUSD(c.TotalValue))
	fmt.Fprintf(&htm, "<li>Total shares: %.0f</li>", c.TotalShares)
	fmt.Fprintf(&htm, "<li>Signal strength: %d/100</li>", c.SignalStrength)

	if c.HasCEOBuy {
		htm.WriteString("<li>Includes a CEO purchase</li>")
	}

	if c.HasCFOBuy {
		htm.WriteString("<li>Includes a CFO purchase</li>")
	}

	if c.HasTenPercentOwner {
		htm.WriteString("<li>Includes a 10% owner</li>")
	}

	htm.WriteString("</ul>")

	return rendered{Subject: subject, Text: text.String(), HTML: htm.String()}
}

func renderTrade(kind string, c domain.TradeSignalContext) rendered {
	name := issuerLabel(c.IssuerName, c.Ticker)
	action := "sold"

	if c.IsPurchase {
		action = "bought"
	}

	var subject string
	if kind == domain.SignalFirstBuy {
		subject = fmt.Sprintf("First buy: %s bought %s", c.PersonName, name)
	} else {
		subject = fmt.Sprintf("Insider trade: %s %s %s of %s",
			c.PersonName, action, formatUSD(c.Value), name)
	}

	var text strings.Builder

	fmt.Fprintf(&text, "%s %s %.0f shares of %s at %s on %s (total %s).\n\n",
		personLabel(c.PersonName, c.OfficerTitle), action, c.Shares, name,
		formatUSD(c.Price), c.Date.Format(dateLayout), formatUSD(c.Value))
	fmt.Fprintf(&text, "Importance score: %d\n", c.ImportanceScore)

	if kind == domain.SignalFirstBuy {
		text.WriteString("This is the insider's first purchase of this issuer in the lookback window.\n")
	}

	if c.ClusterSize >= 2 {
		fmt.Fprintf(&text, "Part of a %d-insider buying cluster.\n", c.ClusterSize)
	}

	var htm strings.Builder

	fmt.Fprintf(&htm, "<h2>%s</h2>", html.EscapeString(subject))
	fmt.Fprintf(&htm, "<p>%s %s <b>%.0f shares</b> of %s at %s on %s (total <b>%s</b>).</p>",
		html.EscapeString(personLabel(c.PersonName, c.OfficerTitle)), action, c.Shares,
		html.EscapeString(name), formatUSD(c.Price), c.Date.Format(dateLayout), formatUSD(c.Value))
	fmt.Fprintf(&htm, "<p>Importance score: <b>%d</b></p>", c.ImportanceScore)

	return rendered{Subject: subject, Text: text.String(), HTML: htm.String()}
}

// renderDigest combines a user's pending alerts into one message.
func renderDigest(entries []domain.QueueEntry, day time.Time) rendered {
	subject := fmt.Sprintf("Insider signals digest for %s (%d alerts)",
		day.Format(dateLayout), len(entries))

	var text strings.Builder

	fmt.Fprintf(&text, "Your insider signal digest for %s:\n\n", day.Format(dateLayout))

	var htm strings.Builder

	fmt.Fprintf(&htm, "<h2>Insider signals digest — %s</h2>", day.Format(dateLayout))

	for i, e := range entries {
		fmt.Fprintf(&text, "%d. %s\n", i+1, e.Subject)
		fmt.Fprintf(&htm, "<h3>%d. %s</h3>%s", i+1, html.EscapeString(e.Subject), e.BodyHTML)
	}

	return rendered{Subject: subject, Text: text.String(), HTML: htm.String()}
}

func issuerLabel(name, ticker string) string {
	if ticker != "" {
		return fmt.Sprintf("%s (%s)", name, ticker)
	}

	return name
}

func personLabel(name, title string) string {
	if title != "" {
		return fmt.Sprintf("%s (%s)", name, title)
	}

	return name
}

func formatUSD(v float64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("$%.2fB", v/1_000_000_000)
	case v >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", v/1_000)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}
