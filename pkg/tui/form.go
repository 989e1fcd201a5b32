package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jingkaihe/enhancer/pkg/settings"
)

type field int

const (
	fieldEnabled field = iota
	fieldProvider
	fieldModel
	fieldCustomModel
	fieldTemplate
)

const quitHint = "Press Ctrl+C again to quit"

// stateChangedMsg tells the form to re-read the panel, e.g. after a host push.
type stateChangedMsg struct{}

type resetCtrlCMsg struct{}

func resetCtrlCCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg {
		return resetCtrlCMsg{}
	})
}

// SettingsModel is the bubbletea model of the enhancement settings form.
// All edits go through the Panel, which persists them as they happen.
type SettingsModel struct {
	ctx     context.Context
	panel   *settings.Panel
	changed chan struct{}

	state     settings.State
	selection settings.ModelSelection
	focus     field

	customInput textinput.Model
	template    textarea.Model

	width              int
	statusMessage      string
	ctrlCPressCount    int
	lastCtrlCPressTime time.Time

	titleStyle   lipgloss.Style
	labelStyle   lipgloss.Style
	focusStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	mutedStyle   lipgloss.Style
	warningStyle lipgloss.Style
}

// NewSettingsModel builds the form over a mounted panel.
func NewSettingsModel(ctx context.Context, panel *settings.Panel) SettingsModel {
	ci := textinput.New()
	ci.Placeholder = "model name, e.g. claude-opus-4-1"
	ci.Prompt = "❯ "
	ci.CharLimit = 200

	ta := textarea.New()
	ta.Placeholder = "Prompt template, ${userInput} is replaced by your prompt"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(6)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()

	m := SettingsModel{
		ctx:           ctx,
		panel:         panel,
		changed:       make(chan struct{}, 1),
		customInput:   ci,
		template:      ta,
		statusMessage: "Ready",
		titleStyle:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#7aa2f7", Dark: "#7aa2f7"}),
		labelStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		focusStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		valueStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
		mutedStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		warningStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
	m.refresh()
	return m
}

// Notify is registered with Panel.OnChange. It never blocks: one pending
// notification is enough since the form re-reads the whole state.
func (m SettingsModel) Notify(settings.State) {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

func (m SettingsModel) waitForChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return stateChangedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m SettingsModel) Init() tea.Cmd {
	return m.waitForChange()
}

func (m SettingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateChangedMsg:
		m.refresh()
		return m, m.waitForChange()

	case resetCtrlCMsg:
		if m.statusMessage == quitHint {
			m.statusMessage = "Ready"
			m.ctrlCPressCount = 0
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if msg.Width > 4 {
			m.template.SetWidth(msg.Width - 4)
			m.customInput.Width = msg.Width - 6
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			now := time.Now()
			if m.ctrlCPressCount > 0 && now.Sub(m.lastCtrlCPressTime) < 2*time.Second {
				return m, tea.Quit
			}
			m.ctrlCPressCount = 1
			m.lastCtrlCPressTime = now
			m.statusMessage = quitHint
			return m, resetCtrlCCmd()
		case tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyTab:
			cmd := m.moveFocus(1)
			return m, cmd
		case tea.KeyShiftTab:
			cmd := m.moveFocus(-1)
			return m, cmd
		}
		return m.handleFieldKey(msg)
	}

	return m, nil
}

func (m *SettingsModel) handleFieldKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.focus {
	case fieldEnabled:
		switch msg.String() {
		case " ", "enter", "x":
			m.panel.SetEnabled(m.ctx, !m.state.Enabled)
			m.statusMessage = "Saved"
			m.refresh()
		case "down", "j":
			cmd := m.moveFocus(1)
			return *m, cmd
		}

	case fieldProvider, fieldModel:
		switch msg.String() {
		case "left", "h":
			m.cycleSelect(-1)
		case "right", "l", " ", "enter":
			m.cycleSelect(1)
		case "down", "j":
			cmd := m.moveFocus(1)
			return *m, cmd
		case "up", "k":
			cmd := m.moveFocus(-1)
			return *m, cmd
		}

	case fieldCustomModel:
		var cmd tea.Cmd
		m.customInput, cmd = m.customInput.Update(msg)
		if value := m.customInput.Value(); value != m.selection.CustomText {
			m.panel.SetCustomModel(m.ctx, value)
			m.statusMessage = "Saved"
			m.refresh()
		}
		return *m, cmd

	case fieldTemplate:
		var cmd tea.Cmd
		m.template, cmd = m.template.Update(msg)
		if value := m.template.Value(); value != m.state.Template {
			m.panel.SetTemplate(m.ctx, value)
			m.statusMessage = "Saved"
			m.refresh()
		}
		return *m, cmd
	}

	return *m, nil
}

func (m *SettingsModel) cycleSelect(delta int) {
	switch m.focus {
	case fieldProvider:
		next := cycle(providerOptions(m.state), m.state.ProviderID, delta)
		if next != m.state.ProviderID {
			m.panel.SelectProvider(m.ctx, next)
		}
	case fieldModel:
		opts := modelOptions(m.state, m.selection)
		next := cycle(opts, m.selection.Value, delta)
		if next == settings.CustomOption && m.selection.Value == settings.CustomOption {
			return
		}
		m.panel.SelectModel(m.ctx, next)
	}
	m.statusMessage = "Saved"
	m.refresh()
}

// visibleFields lists the focusable fields. Everything but the toggle is
// hidden while the feature is disabled.
func (m SettingsModel) visibleFields() []field {
	if !m.state.Enabled {
		return []field{fieldEnabled}
	}
	fields := []field{fieldEnabled, fieldProvider, fieldModel}
	if m.selection.ShowCustomInput {
		fields = append(fields, fieldCustomModel)
	}
	return append(fields, fieldTemplate)
}

func (m *SettingsModel) moveFocus(delta int) tea.Cmd {
	fields := m.visibleFields()
	idx := 0
	for i, f := range fields {
		if f == m.focus {
			idx = i
			break
		}
	}
	idx = ((idx+delta)%len(fields) + len(fields)) % len(fields)
	return m.setFocus(fields[idx])
}

func (m *SettingsModel) setFocus(f field) tea.Cmd {
	m.focus = f
	m.customInput.Blur()
	m.template.Blur()
	switch f {
	case fieldCustomModel:
		return m.customInput.Focus()
	case fieldTemplate:
		return m.template.Focus()
	}
	return nil
}

// refresh re-reads the panel and brings the inputs in line with it. Input
// values are only replaced when they differ so the cursor stays put.
func (m *SettingsModel) refresh() {
	m.state = m.panel.State()
	m.selection = settings.DeriveModelSelection(m.state)

	if m.customInput.Value() != m.selection.CustomText {
		m.customInput.SetValue(m.selection.CustomText)
	}
	if m.template.Value() != m.state.Template {
		m.template.SetValue(m.state.Template)
	}

	visible := false
	for _, f := range m.visibleFields() {
		if f == m.focus {
			visible = true
			break
		}
	}
	if !visible {
		m.setFocus(fieldEnabled)
	}
}

func (m SettingsModel) View() string {
	var b strings.Builder

	b.WriteString(m.titleStyle.Render("Prompt Enhancement"))
	b.WriteString("\n")
	b.WriteString(m.mutedStyle.Render("Rewrite prompts with a model before sending them."))
	b.WriteString("\n\n")

	check := "[ ]"
	if m.state.Enabled {
		check = "[x]"
	}
	b.WriteString(m.row(fieldEnabled, "Enabled", check))

	if m.state.Enabled {
		providers := providerOptions(m.state)
		b.WriteString(m.row(fieldProvider, "Provider", "‹ "+labelFor(providers, m.state.ProviderID)+" ›"))
		if len(m.state.Providers) == 0 {
			b.WriteString(m.warningStyle.Render("  no providers received from the host yet"))
			b.WriteString("\n")
		}

		models := modelOptions(m.state, m.selection)
		b.WriteString(m.row(fieldModel, "Model", "‹ "+modelLabel(models, m.selection.Value)+" ›"))
		if m.selection.ShowCustomInput {
			b.WriteString("  ")
			b.WriteString(m.customInput.View())
			b.WriteString("\n")
		}

		b.WriteString("\n")
		b.WriteString(m.label(fieldTemplate, "Template"))
		b.WriteString("\n")
		b.WriteString(m.template.View())
		b.WriteString("\n")
		if !strings.Contains(m.state.Template, "${userInput}") {
			b.WriteString(m.warningStyle.Render("  template has no ${userInput}, your prompt will not be included"))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

func (m SettingsModel) label(f field, text string) string {
	text = fmt.Sprintf("%-10s", text)
	if m.focus == f {
		return m.focusStyle.Render("› " + text)
	}
	return m.labelStyle.Render("  " + text)
}

func (m SettingsModel) row(f field, label, value string) string {
	return m.label(f, label) + " " + m.valueStyle.Render(value) + "\n"
}

func (m SettingsModel) statusView() string {
	help := "tab: next field • ←/→: change • space: toggle • esc: quit"
	return m.mutedStyle.Render(m.statusMessage + " | " + help)
}
