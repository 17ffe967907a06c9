package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/timeouts"
	"github.com/Oudwins/comfyrunner/sdk"
)

const pollInterval = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	logStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Client is the daemon surface the form needs.
type Client interface {
	Submit(ctx context.Context, request schemas.SubmitRequest) (*schemas.JobSummary, error)
	WebSocketLog(ctx context.Context) (string, error)
	Job(ctx context.Context, jobID string) (*schemas.JobStatus, error)
}

type field int

const (
	fieldPositive field = iota
	fieldNegative
	fieldResolution
	fieldPreset
	fieldSeed
	fieldSteps
	fieldCount
)

type stage int

const (
	stageForm stage = iota
	stageRunning
	stageDone
)

type model struct {
	client Client
	inputs []textinput.Model
	focus  int
	stage  stage

	logs    viewport.Model
	summary *schemas.JobSummary
	path    string
	err     error
	quit    bool
}

type submittedMsg struct {
	summary *schemas.JobSummary
	err     error
}

type pollMsg struct {
	log string
	job *schemas.JobStatus
	err error
}

func Run(client *sdk.Client) error {
	result, err := tea.NewProgram(newModel(client), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	final, ok := result.(model)
	if !ok {
		return nil
	}
	if final.err != nil {
		return final.err
	}
	if final.path != "" {
		fmt.Println(final.path)
	}
	return nil
}

func newModel(client Client) model {
	placeholders := map[field][2]string{
		fieldPositive:   {"Positive: ", ""},
		fieldNegative:   {"Negative: ", ""},
		fieldResolution: {"Resolution: ", "1024x1024"},
		fieldPreset:     {"Preset (optional): ", ""},
		fieldSeed:       {"Seed (blank = random): ", ""},
		fieldSteps:      {"Steps: ", "20"},
	}
	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		input := textinput.New()
		input.Prompt = placeholders[field(i)][0]
		input.Placeholder = placeholders[field(i)][1]
		inputs[i] = input
	}
	inputs[fieldPositive].Focus()
	return model{client: client, inputs: inputs, logs: viewport.New(80, 12)}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.logs.Width = max(msg.Width-4, 20)
		m.logs.Height = max(msg.Height-10, 5)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quit = true
			return m, tea.Quit
		}
		if m.stage == stageDone {
			return m, tea.Quit
		}
		if m.stage == stageRunning {
			var cmd tea.Cmd
			m.logs, cmd = m.logs.Update(msg)
			return m, cmd
		}
		switch msg.String() {
		case "tab", "down":
			return m.moveFocus(1)
		case "shift+tab", "up":
			return m.moveFocus(-1)
		case "enter":
			if m.focus < len(m.inputs)-1 {
				return m.moveFocus(1)
			}
			request, err := m.request()
			if err != nil {
				m.err = err
				return m, nil
			}
			m.err = nil
			m.stage = stageRunning
			return m, submit(m.client, request)
		}
	case submittedMsg:
		if msg.err != nil {
			m.stage = stageForm
			m.err = msg.err
			return m, nil
		}
		m.summary = msg.summary
		return m, poll(m.client, m.summary.JobID)
	case pollMsg:
		m.err = msg.err
		if msg.log != "" {
			m.logs.SetContent(msg.log)
			m.logs.GotoBottom()
		}
		if msg.job != nil && msg.job.Saved {
			m.stage = stageDone
			if len(msg.job.Paths) > 0 {
				m.path = msg.job.Paths[0]
			}
			return m, nil
		}
		jobID := m.summary.JobID
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return poll(m.client, jobID)() })
	}

	if m.stage != stageForm {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	switch m.stage {
	case stageForm:
		b.WriteString(titleStyle.Render("New image") + "\n\n")
		for i, input := range m.inputs {
			marker := " "
			if i == m.focus {
				marker = ">"
			}
			fmt.Fprintf(&b, "%s %s\n", marker, input.View())
		}
		b.WriteString("\n" + helpStyle.Render("Tab: next field  Enter: submit  Esc: cancel"))
	default:
		title := "Submitting..."
		if m.summary != nil {
			title = fmt.Sprintf("Job %s (seed %d)", m.summary.JobID, m.summary.Seed)
		}
		b.WriteString(titleStyle.Render(title) + "\n")
		b.WriteString(logStyle.Render(m.logs.View()) + "\n")
		if m.stage == stageDone && m.err == nil {
			b.WriteString(doneStyle.Render("Saved: "+m.path) + "\n")
			b.WriteString(helpStyle.Render("Press any key to exit"))
		} else {
			b.WriteString(helpStyle.Render("Esc: quit (the job keeps running)"))
		}
	}
	if m.err != nil {
		b.WriteString("\n" + errStyle.Render(m.err.Error()))
	}
	return b.String()
}

func (m model) moveFocus(delta int) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + len(m.inputs)) % len(m.inputs)
	return m, m.inputs[m.focus].Focus()
}

// request turns the form into a submission. Blank fields keep the daemon's
// defaults.
func (m model) request() (schemas.SubmitRequest, error) {
	value := func(f field) string { return strings.TrimSpace(m.inputs[f].Value()) }
	request := schemas.SubmitRequest{
		Positive:   value(fieldPositive),
		Negative:   value(fieldNegative),
		Resolution: value(fieldResolution),
		Preset:     value(fieldPreset),
		SeedMode:   schemas.SeedRandom,
	}
	if request.Positive == "" {
		return request, fmt.Errorf("positive prompt is required")
	}
	if raw := value(fieldSeed); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return request, fmt.Errorf("seed must be a number")
		}
		request.SeedMode, request.Seed = schemas.SeedFixed, seed
	}
	if raw := value(fieldSteps); raw != "" {
		steps, err := strconv.Atoi(raw)
		if err != nil {
			return request, fmt.Errorf("steps must be a number")
		}
		request.Steps = steps
	}
	return request, nil
}

func submit(client Client, request schemas.SubmitRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondDefault)
		defer cancel()
		summary, err := client.Submit(ctx, request)
		return submittedMsg{summary: summary, err: err}
	}
}

// poll reads the event log and the submitted job's own status.
func poll(client Client, jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
		defer cancel()
		text, err := client.WebSocketLog(ctx)
		if err != nil {
			return pollMsg{err: err}
		}
		job, err := client.Job(ctx, jobID)
		return pollMsg{log: text, job: job, err: err}
	}
}
