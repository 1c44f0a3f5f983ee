package cmd

import (
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"grimm.is/knockgate/internal/audit"
	"grimm.is/knockgate/internal/config"
	"grimm.is/knockgate/internal/credentials"
	"grimm.is/knockgate/internal/reputation"
)

const tableTimeLayout = "2006.01.02 15:04:05"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	statusColors = map[string]lipgloss.Color{
		string(reputation.StatusTrusted):   lipgloss.Color("2"),
		string(reputation.StatusUntrusted): lipgloss.Color("3"),
		string(reputation.StatusBlocked):   lipgloss.Color("1"),
	}
)

func renderTable(headers []string, rows [][]string, statusCol int) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusCol && row >= 0 && row < len(rows) {
				if c, ok := statusColors[rows[row][col]]; ok {
					return cellStyle.Foreground(c)
				}
			}
			return cellStyle
		})
	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(tableTimeLayout)
}

// usersTable lists users with expiry and last use.
func usersTable(users []credentials.UserRecord, now time.Time) string {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		expires := "-"
		if !u.Permanent() {
			expires = u.Expires.Format("2006-01-02")
			if !u.Valid(now) {
				expires += " (expired)"
			}
		}
		rows = append(rows, []string{u.Name, expires, orDash(u.LastAddress()), formatTime(u.LastAccess)})
	}
	return renderTable([]string{"USER", "EXPIRES", "LAST IP", "LAST ACCESS"}, rows, -1)
}

// knockURLTable lists the URL each user opens to knock.
func knockURLTable(gen *config.General, users []config.User) string {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		rows = append(rows, []string{u.Name, gen.KnockURL(u.Passcode)})
	}
	return renderTable([]string{"USER", "KNOCK URL"}, rows, -1)
}

// addressesTable lists address records, optionally only one status.
func addressesTable(records []reputation.AddressRecord, status string) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		if status != "" && string(r.Status) != status {
			continue
		}
		owner := orDash(r.Owner)
		if r.Demoted {
			owner += " (demoted)"
		}
		rows = append(rows, []string{r.Address, string(r.Status), strconv.Itoa(r.Strikes), orDash(r.Reason), owner, formatTime(r.LastSeen)})
	}
	return renderTable([]string{"ADDRESS", "STATUS", "STRIKES", "REASON", "OWNER", "LAST SEEN"}, rows, 1)
}

func journalTable(events []audit.Event) string {
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			formatTime(e.Timestamp), e.Address, e.Behavior, e.Status,
			strconv.Itoa(e.Strikes), e.Reason, orDash(e.User), orDash(e.Path),
		})
	}
	return renderTable([]string{"TIME", "ADDRESS", "BEHAVIOR", "STATUS", "STRIKES", "REASON", "USER", "PATH"}, rows, 3)
}
