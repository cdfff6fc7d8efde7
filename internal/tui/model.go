package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aivest/internal/domain"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type Predictor interface {
	Predict(ctx context.Context, symbol string) (*domain.PredictionResult, error)
}

// Services is what one terminal session needs.
type Services struct {
	Predictions    Predictor
	Username       string
	DefaultSymbol  string
	CurrencySymbol string
	Timeout        time.Duration
}

type predictionMsg struct {
	symbol string
	result *domain.PredictionResult
	err    error
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	signalStyles = map[domain.TradeSignal]lipgloss.Style{
		domain.SignalStrongBuy:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		domain.SignalBuy:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domain.SignalNeutral:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		domain.SignalSell:       lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		domain.SignalStrongSell: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
)

// AppModel is the bubbletea model served to each SSH session.
type AppModel struct {
	svc     Services
	input   textinput.Model
	spinner spinner.Model

	loading bool
	pending string
	result  *domain.PredictionResult
	errText string

	width  int
	height int
}

func NewAppModel(svc Services) *AppModel {
	if svc.DefaultSymbol == "" {
		svc.DefaultSymbol = "INFY.NS"
	}
	if svc.CurrencySymbol == "" {
		svc.CurrencySymbol = "₹"
	}
	if svc.Timeout <= 0 {
		svc.Timeout = 2 * time.Minute
	}

	ti := textinput.New()
	ti.Placeholder = svc.DefaultSymbol
	ti.CharLimit = 20
	ti.Width = 20
	ti.Prompt = "symbol> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &AppModel{svc: svc, input: ti, spinner: sp, width: 80, height: 24}
}

func (m *AppModel) SetSize(width, height int) {
	if width > 0 {
		m.width = width
	}
	if height > 0 {
		m.height = height
	}
}

func (m *AppModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			symbol := strings.ToUpper(strings.TrimSpace(m.input.Value()))
			if symbol == "" {
				symbol = m.svc.DefaultSymbol
			}
			m.loading = true
			m.pending = symbol
			m.errText = ""
			return m, tea.Batch(m.spinner.Tick, m.predict(symbol))
		}

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case predictionMsg:
		m.loading = false
		m.pending = ""
		switch {
		case errors.Is(msg.err, domain.ErrDataUnavailable):
			m.result = nil
			m.errText = fmt.Sprintf("Stock data not available for %s", msg.symbol)
		case msg.err != nil:
			m.result = nil
			m.errText = fmt.Sprintf("Prediction failed for %s: %v", msg.symbol, msg.err)
		default:
			m.result = msg.result
		}
		m.input.SetValue("")
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *AppModel) predict(symbol string) tea.Cmd {
	predictions := m.svc.Predictions
	timeout := m.svc.Timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := predictions.Predict(ctx, symbol)
		return predictionMsg{symbol: symbol, result: res, err: err}
	}
}

func (m *AppModel) View() string {
	var sb strings.Builder

	header := "AIvest next-day forecast"
	if m.svc.Username != "" {
		header += labelStyle.Render("  signed in as " + m.svc.Username)
	}
	sb.WriteString(titleStyle.Render(header))
	sb.WriteString("\n\n")
	sb.WriteString(m.input.View())
	sb.WriteString("\n\n")

	switch {
	case m.loading:
		sb.WriteString(fmt.Sprintf("%s Training on %s history...", m.spinner.View(), m.pending))
	case m.errText != "":
		sb.WriteString(errorStyle.Render(m.errText))
	case m.result != nil:
		sb.WriteString(m.renderResult(m.result))
	}

	sb.WriteString("\n\n")
	sb.WriteString(helpStyle.Render("enter: predict  esc: quit"))
	return sb.String()
}

func (m *AppModel) renderResult(r *domain.PredictionResult) string {
	cur := m.svc.CurrencySymbol
	style, ok := signalStyles[r.Signal]
	if !ok {
		style = signalStyles[domain.SignalNeutral]
	}

	summary := strings.Join([]string{
		titleStyle.Render(r.Symbol) + labelStyle.Render("  as of "+r.AsOf.Format("2006-01-02")),
		labelStyle.Render("Current    ") + fmt.Sprintf("%s%.2f", cur, r.LatestPrice),
		labelStyle.Render("Next day   ") + fmt.Sprintf("%s%.2f", cur, r.PredictedPrice),
		labelStyle.Render("Change     ") + fmt.Sprintf("%.2f%%", r.ChangePct),
		labelStyle.Render("Fit        ") + fmt.Sprintf("%.2f%%", r.Confidence*100),
		labelStyle.Render("Signal     ") + style.Render(fmt.Sprintf("%s %s", r.Signal, r.Signal.Emoji())),
	}, "\n")

	legend := helpStyle.Render("green: actual  blue: model")
	return lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(summary),
		boxStyle.Render(RenderChart(r.Evaluation, m.chartWidth(), 8)+"\n"+legend),
	)
}

// chartWidth leaves room for the summary box, the chart's axis labels and both borders.
func (m *AppModel) chartWidth() int {
	return m.width - 56
}
