// Admin dashboard: a terminal view over the live auction collection,
// with a lot table and a scrollable log pane.
package main

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/wasteloop/auction-server/configs"
	"github.com/wasteloop/auction-server/internal/auction"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	manager *auction.Manager
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(1*time.Minute, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func lotColumns() []table.Column {
	return []table.Column{
		{Title: "LOT", Width: 8},
		{Title: "LISTING", Width: 28},
		{Title: "HIGHEST BID", Width: 14},
		{Title: "BIDS", Width: 6},
		{Title: "TIME LEFT", Width: 16},
		{Title: "STATUS", Width: 8},
	}
}

func lotRows() []table.Row {
	auctions, err := manager.All()
	if err != nil {
		log.Error("Error getting auctions: ", err)
		return nil
	}

	rows := make([]table.Row, 0, len(auctions))
	for _, a := range auctions {
		title := a.ListingTitle
		if title == "" {
			title = a.MaterialName
		}

		timeLeft := time.Until(a.EndTime).Truncate(time.Second)
		timeLeftStr := timeLeft.String()
		if timeLeft < 0 {
			timeLeftStr = "Ended"
		}

		status := "open"
		if !a.IsActive {
			status = "closed"
		}
		if a.Virtual {
			status += "*"
		}

		rows = append(rows, table.Row{
			fmt.Sprintf("#%d", a.ID),
			title,
			a.CurrentHighestBid.StringFixed(2),
			fmt.Sprintf("%d", a.BidCount),
			timeLeftStr,
			status,
		})
	}
	return rows
}

func newDashboard() model {
	t := table.New(
		table.WithColumns(lotColumns()),
		table.WithRows(lotRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(lotRows())
		} else {
			m.logs = strings.Split(m.logBuffer.String(), "\n")
			return m, tick()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1)
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1)
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				m.logs = strings.Split(m.logBuffer.String(), "\n")
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)
	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show the tail of the log buffer
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer for the log pane
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	db, err := store.New(cfg.Storage.Dir)
	if err != nil {
		log.Fatal("Error opening store: ", err)
	}
	defer db.Close()

	gateway := listings.NewGateway(db)
	manager = auction.NewManager(db, gateway, cfg.Auctions.Seeds)

	m := newDashboard()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running dashboard: %v", err)
	}
}
