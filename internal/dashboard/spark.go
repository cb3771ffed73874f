package dashboard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// sparkline renders the last width values scaled into [lo, hi]. Values that
// fall outside the band are colored with alarm.
func sparkline(values []float64, width int, lo, hi float64, band [2]float64, ok, alarm lipgloss.Color) string {
	if width <= 0 {
		return ""
	}
	if len(values) == 0 {
		return lipgloss.NewStyle().Foreground(colorDim).Render(strings.Repeat("╌", width))
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if hi <= lo {
		hi = lo + 1
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(values)))

	okS := lipgloss.NewStyle().Foreground(ok)
	alarmS := lipgloss.NewStyle().Foreground(alarm)
	for _, v := range values {
		idx := int((v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		idx = max(0, min(idx, len(sparkBlocks)-1))

		style := okS
		if v < band[0] || v > band[1] {
			style = alarmS
		}
		b.WriteString(style.Render(string(sparkBlocks[idx])))
	}
	return b.String()
}
