package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// TermTheme holds the color values for a terminal theme.
type TermTheme struct {
	Name string

	// Brand
	Accent    lipgloss.Color
	AccentDim lipgloss.Color

	// Semantic
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	// Text
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Dim       lipgloss.Color

	Border lipgloss.Color
}

// DarkTheme is the default dark terminal theme.
var DarkTheme = TermTheme{
	Name:      "dark",
	Accent:    lipgloss.Color("#0ea5e9"),
	AccentDim: lipgloss.Color("#0369a1"),
	Success:   lipgloss.Color("#22c55e"),
	Warning:   lipgloss.Color("#eab308"),
	Error:     lipgloss.Color("#ef4444"),
	Primary:   lipgloss.Color("#e0e0e8"),
	Secondary: lipgloss.Color("#888888"),
	Dim:       lipgloss.Color("#5a5a70"),
	Border:    lipgloss.Color("#2a2a3a"),
}

// LightTheme is the light terminal theme.
var LightTheme = TermTheme{
	Name:      "light",
	Accent:    lipgloss.Color("#0369a1"),
	AccentDim: lipgloss.Color("#075985"),
	Success:   lipgloss.Color("#15803d"),
	Warning:   lipgloss.Color("#a16207"),
	Error:     lipgloss.Color("#b91c1c"),
	Primary:   lipgloss.Color("#0f172a"),
	Secondary: lipgloss.Color("#374151"),
	Dim:       lipgloss.Color("#4b5563"),
	Border:    lipgloss.Color("#d1d5db"),
}

// DetectTheme returns the appropriate theme based on flag, env, or detection.
func DetectTheme(flagVal string) TermTheme {
	// 1. --theme flag
	switch strings.ToLower(flagVal) {
	case "dark":
		return DarkTheme
	case "light":
		return LightTheme
	}

	// 2. SLIPWAY_THEME env
	if env := os.Getenv("SLIPWAY_THEME"); env != "" {
		switch strings.ToLower(env) {
		case "dark":
			return DarkTheme
		case "light":
			return LightTheme
		}
	}

	// 3. COLORFGBG heuristic (format: "fg;bg")
	if colorfgbg := os.Getenv("COLORFGBG"); colorfgbg != "" {
		parts := strings.Split(colorfgbg, ";")
		if len(parts) >= 2 {
			bg := parts[len(parts)-1]
			// bg values 7 and 15 are typically light backgrounds
			if bg == "15" || bg == "7" {
				return LightTheme
			}
		}
	}

	// 4. Default to dark
	return DarkTheme
}

// StyleSet contains pre-computed lipgloss styles derived from a theme.
type StyleSet struct {
	Theme TermTheme

	Title        lipgloss.Style
	AccentTxt    lipgloss.Style
	DimTxt       lipgloss.Style
	SuccessTxt   lipgloss.Style
	WarningTxt   lipgloss.Style
	ErrorTxt     lipgloss.Style
	PrimaryTxt   lipgloss.Style
	SecondaryTxt lipgloss.Style

	BorderedBox lipgloss.Style
}

// NewStyleSet creates a StyleSet from a theme.
func NewStyleSet(theme TermTheme) *StyleSet {
	return &StyleSet{
		Theme: theme,

		Title:        lipgloss.NewStyle().Foreground(theme.Accent).Bold(true),
		AccentTxt:    lipgloss.NewStyle().Foreground(theme.Accent),
		DimTxt:       lipgloss.NewStyle().Foreground(theme.Dim),
		SuccessTxt:   lipgloss.NewStyle().Foreground(theme.Success),
		WarningTxt:   lipgloss.NewStyle().Foreground(theme.Warning),
		ErrorTxt:     lipgloss.NewStyle().Foreground(theme.Error),
		PrimaryTxt:   lipgloss.NewStyle().Foreground(theme.Primary),
		SecondaryTxt: lipgloss.NewStyle().Foreground(theme.Secondary),

		BorderedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),
	}
}
