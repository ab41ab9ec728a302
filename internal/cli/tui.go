package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// =============================================================================
// ProgressModel - Live view of concurrent conversions
// =============================================================================

// Messages sent from pipeline hooks to the progress model.
type (
	convertStartMsg struct {
		id      string
		archive string
	}
	stageStartMsg struct {
		id    string
		stage observability.Stage
	}
	convertDoneMsg struct {
		id  string
		dur time.Duration
		err error
	}
	// allDoneMsg tells the model every conversion has returned.
	allDoneMsg struct{}
)

// progressRow is the state of one conversion.
type progressRow struct {
	archive string
	stage   observability.Stage
	done    bool
	dur     time.Duration
	err     error
}

// ProgressModel is the bubbletea model for the convert --progress view.
type ProgressModel struct {
	Total int
	rows  []*progressRow
	byID  map[string]*progressRow
	frame int
}

// NewProgressModel creates a progress model for total conversions.
func NewProgressModel(total int) ProgressModel {
	return ProgressModel{Total: total, byID: make(map[string]*progressRow)}
}

type tickMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m ProgressModel) Init() tea.Cmd {
	return tick()
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.frame++
		return m, tick()
	case convertStartMsg:
		row := &progressRow{archive: filepath.Base(msg.archive)}
		m.rows = append(m.rows, row)
		m.byID[msg.id] = row
	case stageStartMsg:
		if row, ok := m.byID[msg.id]; ok {
			row.stage = msg.stage
		}
	case convertDoneMsg:
		if row, ok := m.byID[msg.id]; ok {
			row.done = true
			row.dur = msg.dur
			row.err = msg.err
		}
	case allDoneMsg:
		return m, tea.Quit
	}
	return m, nil
}

// finished returns the number of conversions that have returned.
func (m ProgressModel) finished() int {
	n := 0
	for _, r := range m.rows {
		if r.done {
			n++
		}
	}
	return n
}

func (m ProgressModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Converting"))
	b.WriteString(StyleDim.Render(fmt.Sprintf("  [%d/%d]", m.finished(), m.Total)))
	b.WriteString("\n\n")

	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	for _, r := range m.rows {
		var icon, status string
		switch {
		case !r.done:
			icon = styleIconSpinner.Render(frames[m.frame%len(frames)])
			status = StyleDim.Render(string(r.stage))
		case r.err != nil:
			icon = styleIconError.Render(iconError)
			status = StyleWarning.Render(string(errors.GetCode(r.err)))
		default:
			icon = styleIconSuccess.Render(iconSuccess)
			status = StyleDim.Render(r.dur.Round(time.Millisecond).String())
		}
		fmt.Fprintf(&b, "%s %-32s %s\n", icon, r.archive, status)
	}
	return b.String()
}

// teaHooks forwards pipeline events to a running bubbletea program.
type teaHooks struct {
	observability.NoopPipelineHooks
	send func(tea.Msg)
}

func (h teaHooks) OnConvertStart(_ context.Context, id, archive string) {
	h.send(convertStartMsg{id: id, archive: archive})
}

func (h teaHooks) OnStageStart(_ context.Context, id string, stage observability.Stage) {
	h.send(stageStartMsg{id: id, stage: stage})
}

func (h teaHooks) OnConvertComplete(_ context.Context, id string, d time.Duration, err error) {
	h.send(convertDoneMsg{id: id, dur: d, err: err})
}

// =============================================================================
// History Table
// =============================================================================

// renderHistory renders records as a table, newest first.
func renderHistory(recs []*store.Record, now time.Time) string {
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	rows := make([][]string, len(recs))
	for i, r := range recs {
		result := r.Artifact
		if r.Status == store.StatusFailed {
			result = string(r.Code)
		}
		rows[i] = []string{
			formatRelativeTime(r.CreatedAt, now),
			r.Archive,
			string(r.Status),
			result,
			r.Duration.Round(time.Millisecond).String(),
		}
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("When", "Archive", "Status", "Result", "Took").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(recs) {
				return lipgloss.NewStyle()
			}
			base := lipgloss.NewStyle().Padding(0, 1)
			if col == 0 || col == 4 {
				return base.Foreground(colorDim)
			}
			if recs[row].Status == store.StatusFailed {
				return base.Foreground(colorRed)
			}
			if col == 2 {
				return base.Foreground(colorGreen)
			}
			return base
		})
	return t.Render()
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
