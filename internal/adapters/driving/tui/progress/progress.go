// Package progress renders a running bulk delete as a terminal progress bar.
package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/ledgersync/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
)

const (
	maxBarWidth = 60
	padding     = 2
	// maxFailures is how many recent failures are listed under the bar.
	maxFailures = 5
)

type updateMsg domain.DeleteBatchProgress

type closedMsg struct{}

type keyMap struct {
	Detach key.Binding
}

var keys = keyMap{
	Detach: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "stop watching (the batch keeps running)"),
	),
}

// Model is the bubbletea model for one delete batch.
type Model struct {
	batch    driving.DeleteBatch
	bar      progress.Model
	styles   *styles.Styles
	current  domain.DeleteBatchProgress
	done     bool
	detached bool
}

// New creates a model watching batch. A nil s uses the default styles.
func New(batch driving.DeleteBatch, s *styles.Styles) Model {
	if s == nil {
		s = styles.DefaultStyles()
	}
	bar := progress.New(progress.WithGradient(s.Theme().BarStart, s.Theme().BarEnd))
	bar.Width = maxBarWidth
	return Model{
		batch:   batch,
		bar:     bar,
		styles:  s,
		current: batch.Snapshot(),
	}
}

// Init starts listening for progress.
func (m Model) Init() tea.Cmd {
	return waitFor(m.batch.Updates())
}

func waitFor(updates <-chan domain.DeleteBatchProgress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return updateMsg(p)
	}
}

// Update handles progress and key messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.current = domain.DeleteBatchProgress(msg)
		if m.current.Done() {
			m.done = true
			return m, tea.Quit
		}
		return m, waitFor(m.batch.Updates())

	case closedMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, keys.Detach) {
			m.detached = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-padding*2, maxBarWidth)
	}
	return m, nil
}

// View renders the bar, counters and the latest failures.
func (m Model) View() string {
	p := m.current
	pad := strings.Repeat(" ", padding)

	var b strings.Builder
	b.WriteString(pad + m.styles.Title.Render(fmt.Sprintf("Deleting %d %s record(s)", p.Total, p.EntityType)) + "\n\n")
	b.WriteString(pad + m.bar.ViewAs(p.Percent()) + "\n\n")
	b.WriteString(pad + fmt.Sprintf("%d/%d  ", p.Current, p.Total))
	b.WriteString(m.styles.Success.Render(fmt.Sprintf("%d deleted", p.SuccessCount)) + "  ")
	b.WriteString(m.styles.Error.Render(fmt.Sprintf("%d failed", p.FailedCount)) + "\n")

	failures := failed(p.Results)
	if len(failures) > maxFailures {
		b.WriteString(pad + m.styles.Muted.Render(fmt.Sprintf("... %d earlier failure(s)", len(failures)-maxFailures)) + "\n")
		failures = failures[len(failures)-maxFailures:]
	}
	for _, r := range failures {
		b.WriteString(pad + m.styles.Error.Render(fmt.Sprintf("✗ %s: %s", r.ID, r.Error)) + "\n")
	}

	if !m.done {
		b.WriteString("\n" + pad + m.styles.Help.Render(keys.Detach.Help().Key+": "+keys.Detach.Help().Desc) + "\n")
	}
	return b.String()
}

// Progress returns the last progress seen.
func (m Model) Progress() domain.DeleteBatchProgress {
	return m.current
}

// Detached reports whether the user stopped watching before completion.
func (m Model) Detached() bool {
	return m.detached
}

func failed(results []domain.ItemResult) []domain.ItemResult {
	var out []domain.ItemResult
	for _, r := range results {
		if r.Status == domain.ItemFailed {
			out = append(out, r)
		}
	}
	return out
}

// Run shows the progress view until the batch completes or the user
// detaches, and returns the last progress seen.
func Run(batch driving.DeleteBatch, in io.Reader, out io.Writer) (domain.DeleteBatchProgress, bool, error) {
	final, err := tea.NewProgram(New(batch, nil), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return batch.Snapshot(), false, fmt.Errorf("progress view: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return batch.Snapshot(), false, nil
	}
	if m.Detached() {
		return batch.Snapshot(), true, nil
	}
	return m.Progress(), false, nil
}
