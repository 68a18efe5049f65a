package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/inhies/go-bytesize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// Color palette
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	mutedColor   = lipgloss.Color("#666666")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	goodStyle = lipgloss.NewStyle().
			Foreground(successColor)

	numbers = message.NewPrinter(language.English)
)

// render applies style unless color output is disabled.
func render(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

// fmtInt formats n with thousands separators.
func fmtInt(n int) string {
	return numbers.Sprintf("%d", n)
}

// fmtBytes formats n as a human readable size.
func fmtBytes(n int) string {
	return bytesize.New(float64(n)).String()
}

// printField prints one aligned "label: value" line.
func printField(label, value string) {
	printInfo("  %s %s\n", render(labelStyle, fmt.Sprintf("%-18s", label+":")), value)
}
