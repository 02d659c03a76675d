package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vadiminshakov/autoyield/internal/domain"
	"github.com/vadiminshakov/autoyield/internal/services/orchestrator"
)

const displayPrecision = 2

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#D7A000", Dark: "#FFD75F"}

	titleStyle = lipgloss.NewStyle().Foreground(highlight).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(special)
	warnStyle  = lipgloss.NewStyle().Foreground(warning)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(highlight)).
		Headers(headers...)
}

func renderOverview(sess domain.Session, o domain.VaultOverview) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Vault on chain %d", sess.ChainID)))
	b.WriteString("\n")

	if !o.Available {
		b.WriteString(warnStyle.Render("no deployment configured for this chain, showing placeholders"))
		b.WriteString("\n")
	}

	summary := newTable("Total assets", "Your vault balance", "Token supply", "Active venue").
		Row(
			o.TotalAssets.Display(displayPrecision),
			o.UserBalance.Display(displayPrecision),
			o.TokenSupply.Display(displayPrecision),
			o.Active.Name,
		)
	b.WriteString(summary.Render())
	b.WriteString("\n")

	venues := newTable("Venue", "APY %", "Balance")
	for _, v := range o.Venues {
		name := v.Name
		if name == o.Active.Name {
			name = okStyle.Render(name + " *")
		}
		venues.Row(name, domain.FormatAPY(v.APY), v.Balance.Display(displayPrecision))
	}
	b.WriteString(venues.Render())
	return b.String()
}

func renderBalances(v domain.BalanceView) string {
	t := newTable("Wallet", "In vault", "Allowance").
		Row(
			v.TokenBalance.Display(displayPrecision),
			v.VaultBalance.Display(displayPrecision),
			v.Allowance.Display(displayPrecision),
		)
	out := t.Render()
	if !v.Fresh {
		out += "\n" + warnStyle.Render("balances may be stale")
	}
	return out
}

func renderTransfer(st orchestrator.State, v domain.BalanceView) string {
	var b strings.Builder

	switch st.Phase {
	case domain.PhaseSuccess:
		b.WriteString(okStyle.Render("✓ done"))
	case domain.PhaseFailed:
		b.WriteString(errorStyle.Render("✗ failed"))
		if st.Error != "" {
			b.WriteString(": " + st.Error)
		}
	default:
		b.WriteString(mutedStyle.Render("phase: " + string(st.Phase)))
	}
	b.WriteString("\n")

	switch h := st.Status.Handle; {
	case h == nil:
	case st.Status.Acknowledged:
		b.WriteString(mutedStyle.Render("pending transaction acknowledged, surface stays reserved"))
		b.WriteString("\n")
	default:
		b.WriteString(renderHandle(*h))
		b.WriteString("\n")
	}

	b.WriteString(renderBalances(v))
	return b.String()
}

func renderHandle(h domain.TxHandle) string {
	if h.ID == "" {
		return mutedStyle.Render("no transaction sent")
	}

	state := string(h.State)
	switch h.State {
	case domain.TxConfirmed:
		state = okStyle.Render(state)
	case domain.TxFailed:
		state = errorStyle.Render(state)
	default:
		state = warnStyle.Render(state)
	}

	line := fmt.Sprintf("%s %s %s", h.Kind, state, h.Hash.Hex())
	if h.Error != "" {
		line += "\n" + errorStyle.Render(h.Error)
	}
	return line
}

func renderHistory(h domain.History) string {
	var b strings.Builder

	switch {
	case h.Source == domain.HistoryLive:
		b.WriteString(titleStyle.Render("Rebalance history"))
	case h.Err != nil:
		b.WriteString(warnStyle.Render(fmt.Sprintf("Rebalance history (%s, live query failed: %s)", h.Source, h.Err.Kind)))
	default:
		b.WriteString(warnStyle.Render(fmt.Sprintf("Rebalance history (%s)", h.Source)))
	}
	b.WriteString("\n")

	if len(h.Events) == 0 {
		b.WriteString(mutedStyle.Render("no rebalances yet"))
		return b.String()
	}

	t := newTable("When", "Block", "From", "To", "Amount", "APY %", "Tx")
	for _, ev := range h.Events {
		when := "-"
		if !ev.Timestamp.IsZero() {
			when = ev.Timestamp.UTC().Format(time.DateTime)
		}
		t.Row(
			when,
			fmt.Sprintf("%d", ev.BlockNumber),
			ev.From.Label(),
			ev.To.Label(),
			ev.Amount.Display(displayPrecision),
			domain.FormatAPY(ev.FromAPY)+" → "+domain.FormatAPY(ev.ToAPY),
			shortHash(ev.TxHash.Hex()),
		)
	}
	b.WriteString(t.Render())
	return b.String()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + "…" + h[len(h)-4:]
}
