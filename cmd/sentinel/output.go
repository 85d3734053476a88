package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	labelColor   = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
)

// stderr and stdout are swapped out by tests.
var (
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func printSuccess(format string, args ...any) {
	successColor.Fprintln(stderr, "✓ "+fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	errorColor.Fprintln(stderr, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(format string, args ...any) {
	warningColor.Fprintln(stderr, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(stderr, "  %s %s\n", labelColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	stepColor.Fprintln(stderr, "→ "+fmt.Sprintf(format, args...))
}

// personaColors tint sub-agent replies in the terminal.
var personaColors = map[string]*color.Color{
	"ThreatScanner":       color.New(color.FgRed),
	"NetworkMapper":       color.New(color.FgBlue),
	"EncryptionManager":   color.New(color.FgMagenta),
	"DefenseOrchestrator": color.New(color.FgGreen),
	"AnalyticsEngine":     color.New(color.FgYellow),
	"LogAgent":            color.New(color.FgCyan),
}

// printChatLine writes one transcript line to stdout.
func printChatLine(role, persona, text string) {
	switch role {
	case "user":
		fmt.Fprintf(stdout, "%s %s\n", labelColor.Sprint("you>"), text)
	case "agent":
		c, ok := personaColors[persona]
		if !ok {
			c = labelColor
		}
		name := persona
		if name == "" {
			name = "agent"
		}
		fmt.Fprintf(stdout, "%s %s\n", c.Sprint(name+">"), text)
	default:
		dimColor.Fprintln(stdout, text)
	}
}
