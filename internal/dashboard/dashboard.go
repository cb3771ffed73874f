// Package dashboard is the live terminal view of the battery, fed by the
// fan-out like any other subscriber.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codeberg.org/mutker/bmsctl/internal/classify"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	historySize = 300
	alertLines  = 5
)

var (
	colorTitleBg  = lipgloss.Color("17")
	colorTitleFg  = lipgloss.Color("51")
	colorBorder   = lipgloss.Color("62")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorWarn     = lipgloss.Color("220")
	colorCrit     = lipgloss.Color("196")
)

type alertLine struct {
	at     time.Time
	status telemetry.Status
}

// Model is the bubbletea model of the dashboard.
type Model struct {
	feed       *Feed
	thresholds classify.Thresholds

	latest    telemetry.Sample
	received  int
	voltages  []float64
	temps     []float64
	alerts    []alertLine
	width     int
	height    int
	startTime time.Time
	paused    bool
	ended     bool
}

func New(feed *Feed, thresholds classify.Thresholds) Model {
	return Model{
		feed:       feed,
		thresholds: thresholds,
		startTime:  time.Now(),
	}
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, feed *Feed, thresholds classify.Thresholds) error {
	p := tea.NewProgram(New(feed, thresholds), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	// A cancelled context kills the program; that is a normal shutdown.
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.feed.next()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case sampleMsg:
		if !m.paused {
			m.record(telemetry.Sample(msg))
		}
		return m, m.feed.next()

	case feedClosedMsg:
		m.ended = true
	}

	return m, nil
}

func (m *Model) record(s telemetry.Sample) {
	m.latest = s
	m.received++

	m.voltages = appendBounded(m.voltages, s.BatteryVoltage)
	if s.Temperature != nil {
		m.temps = appendBounded(m.temps, *s.Temperature)
	}

	if s.Status.IsAnomalous() {
		m.alerts = append(m.alerts, alertLine{at: s.Timestamp, status: s.Status})
		if len(m.alerts) > alertLines {
			m.alerts = m.alerts[len(m.alerts)-alertLines:]
		}
	}
}

func appendBounded(vs []float64, v float64) []float64 {
	vs = append(vs, v)
	if len(vs) > historySize {
		vs = vs[len(vs)-historySize:]
	}
	return vs
}

func (m Model) View() string {
	width := m.width - 2
	if width < 60 {
		width = 60
	}

	sections := []string{m.renderTitleBar(width)}

	if m.received == 0 {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(colorDim).
			Width(width).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render("Waiting for battery data..."))
	} else {
		sections = append(sections, m.renderReadings(width), m.renderAlerts(width))
	}

	sections = append(sections, m.renderFooter(width))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar(width int) string {
	logo := lipgloss.NewStyle().Bold(true).Foreground(colorTitleFg).Render("BATTERY MONITOR")

	dim := lipgloss.NewStyle().Foreground(colorDim)
	parts := []string{dim.Render("up " + fmtDuration(time.Since(m.startTime)))}
	if m.received > 0 {
		parts = append(parts, dim.Render(m.latest.Timestamp.Local().Format(time.TimeOnly)))
	}
	if m.paused {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorCrit).Bold(true).Render("PAUSED"))
	}
	if m.ended {
		parts = append(parts, lipgloss.NewStyle().Foreground(colorWarn).Render("STOPPED"))
	}
	right := strings.Join(parts, dim.Render(" │ "))

	gap := max(1, width-lipgloss.Width(logo)-lipgloss.Width(right)-4)
	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderReadings(width int) string {
	s := m.latest
	t := m.thresholds
	label := lipgloss.NewStyle().Foreground(colorLabel).Width(16)
	chartWidth := max(10, min(width-50, 120))

	voltColor := colorOk
	if s.BatteryVoltage < t.VoltageLow || s.BatteryVoltage > t.VoltageHigh {
		voltColor = colorCrit
	}
	tempText := "n/a"
	tempColor := colorDim
	if s.Temperature != nil {
		tempText = fmt.Sprintf("%.1f °C", *s.Temperature)
		tempColor = colorOk
		if *s.Temperature > t.TempHigh {
			tempColor = colorCrit
		} else if *s.Temperature > t.TempHigh*0.9 {
			tempColor = colorWarn
		}
	}
	humidity := "n/a"
	if s.Humidity != nil {
		humidity = fmt.Sprintf("%.1f %%", *s.Humidity)
	}

	value := func(c lipgloss.Color, v string) string {
		return lipgloss.NewStyle().Foreground(c).Width(12).Align(lipgloss.Right).Render(v)
	}

	voltBand := [2]float64{t.VoltageLow, t.VoltageHigh}
	tempBand := [2]float64{-1e9, t.TempHigh}

	rows := []string{
		label.Render("Status") + " " + m.renderStatus(s.Status),
		label.Render("Battery voltage") + value(voltColor, fmt.Sprintf("%.2f V", s.BatteryVoltage)) + "  " +
			sparkline(m.voltages, chartWidth, t.VoltageLow-0.3, t.VoltageHigh+0.3, voltBand, colorOk, colorCrit),
		label.Render("Temperature") + value(tempColor, tempText) + "  " +
			sparkline(m.temps, chartWidth, 0, t.TempHigh+10, tempBand, colorOk, colorCrit),
		label.Render("Humidity") + value(colorLabel, humidity),
		label.Render("Load voltage") + value(colorLabel, fmt.Sprintf("%.2f V", s.LoadVoltage)),
		label.Render("Current") + value(colorLabel, fmt.Sprintf("%.3f A", s.Current)),
		label.Render("Power") + value(colorLabel, fmt.Sprintf("%.2f W", s.Power)),
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderStatus(st telemetry.Status) string {
	var c lipgloss.Color
	switch st {
	case telemetry.StatusNormal:
		c = colorOk
	case telemetry.StatusTemperatureAnomaly, telemetry.StatusVoltageAnomaly:
		c = colorWarn
	default:
		c = colorCrit
	}
	return lipgloss.NewStyle().Bold(true).Foreground(c).Render(strings.ToUpper(st.Words()))
}

func (m Model) renderAlerts(width int) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	lines := []string{dim.Render("Recent anomalies")}
	if len(m.alerts) == 0 {
		lines = append(lines, dim.Render("  none"))
	}
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		lines = append(lines, "  "+dim.Render(a.at.Local().Format(time.TimeOnly))+"  "+m.renderStatus(a.status))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1).
		Width(width).
		Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) renderFooter(width int) string {
	dim := lipgloss.NewStyle().Foreground(colorDim)
	key := lipgloss.NewStyle().Foreground(colorLabel)
	stats := dim.Render(fmt.Sprintf("%d samples", m.received))
	keys := dim.Render("q") + key.Render(":quit") + dim.Render("  p") + key.Render(":pause")

	gap := max(1, width-lipgloss.Width(stats)-lipgloss.Width(keys)-4)
	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Width(width).
		Padding(0, 1).
		Render(stats + strings.Repeat(" ", gap) + keys)
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
