package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/tidwall/gjson"

	"github.com/openev/carwings/pkg/vehicle"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(22)
	valueStyle = lipgloss.NewStyle().Bold(true)
	onStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	staleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// printer writes command results either as styled text or as raw JSON.
type printer struct {
	out   io.Writer
	raw   bool
	color bool
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}

func yesNo(b bool) string {
	if b {
		return onStyle.Render("yes")
	}
	return offStyle.Render("no")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}

func renderStatus(s *vehicle.Status) string {
	rows := []string{
		row("Last updated", formatTime(s.LastUpdated)),
		row("Plugged in", yesNo(s.PluggedIn)),
		row("Charging", yesNo(s.Charging)),
	}
	if s.BatteryRemainingAmount != nil {
		rows = append(rows, row("Battery", fmt.Sprintf("%d / %d", *s.BatteryRemainingAmount, s.BatteryCapacity)))
	}
	if s.BatteryRemainingAmountKWH != nil {
		rows = append(rows, row("Remaining energy", fmt.Sprintf("%.1f kWh", *s.BatteryRemainingAmountKWH)))
	} else if s.BatteryRemainingAmountWH != nil {
		rows = append(rows, row("Remaining energy", fmt.Sprintf("%.0f Wh", *s.BatteryRemainingAmountWH)))
	}
	for _, ttf := range []struct {
		label string
		value *vehicle.TimeToFull
	}{
		{"Time to full (L1)", s.TimeToFull},
		{"Time to full (L2)", s.TimeToFull200},
		{"Time to full (6kW)", s.TimeToFull200_6kW},
	} {
		if ttf.value != nil {
			rows = append(rows, row(ttf.label, ttf.value.Formatted()))
		}
	}
	rows = append(rows,
		row("Range (AC on)", fmt.Sprintf("%.0f %s", s.CruisingRangeAcOn, s.CruisingRangeUnit)),
		row("Range (AC off)", fmt.Sprintf("%.0f %s", s.CruisingRangeAcOff, s.CruisingRangeUnit)),
		row("Climate control", yesNo(s.RemoteACRunning)),
	)
	if !s.RemoteACLastChanged.IsZero() {
		rows = append(rows, row("Climate changed", formatTime(s.RemoteACLastChanged)))
	}
	body := lipgloss.JoinVertical(lipgloss.Left, rows...)
	if !s.Fresh {
		body = lipgloss.JoinVertical(lipgloss.Left, body, "", staleStyle.Render("Data may be stale."))
	}
	return boxStyle.Render(body)
}

func renderLocation(loc *vehicle.Location) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		row("Latitude", fmt.Sprintf("%.6f", loc.Latitude)),
		row("Longitude", fmt.Sprintf("%.6f", loc.Longitude)),
		row("Recorded", formatTime(loc.Recorded)),
	))
}

// renderJSON pretty-prints body and, if color is true, highlights it for a 256-colour terminal.
func renderJSON(body []byte, color bool) (string, error) {
	pretty := gjson.GetBytes(body, "@pretty").Raw
	if pretty == "" {
		pretty = string(body)
	}
	if !color {
		return pretty, nil
	}
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	iterator, err := lexer.Tokenise(nil, pretty)
	if err != nil {
		return pretty, err
	}
	var highlighted strings.Builder
	if err := formatter.Format(&highlighted, style, iterator); err != nil {
		return pretty, err
	}
	return highlighted.String(), nil
}

func (p *printer) JSON(body []byte) error {
	text, err := renderJSON(body, p.color)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.out, strings.TrimRight(text, "\n"))
	return err
}

func (p *printer) Println(text string) {
	fmt.Fprintln(p.out, text)
}
