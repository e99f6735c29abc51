// Package ui is the CLI voice of loanmerge: colored, step-oriented output
// for the import, rebuild and export modes.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	success = color.New(color.FgGreen)
	accent  = color.New(color.FgYellow, color.Bold)
	info    = color.New(color.FgBlue)
	failure = color.New(color.FgRed)
)

// Header prints a banner for a top-level mode (import, rebuild, serve).
func Header(text string) {
	rule := strings.Repeat("=", headerWidth)
	success.Printf("\n%s\n", rule)
	success.Printf("%-*s\n", headerWidth, center(text, headerWidth))
	success.Printf("%s\n\n", rule)
}

// Step prints a numbered phase marker, "[2/3] Importing extracts".
func Step(num, total int, text string) {
	accent.Printf("[%d/%d] %s\n", num, total, text)
}

// Success prints a green result line.
func Success(text string) {
	success.Printf("  → %s\n", text)
}

// Info prints a neutral result line.
func Info(text string) {
	fmt.Printf("  → %s\n", text)
}

// Warning prints a non-fatal problem.
func Warning(text string) {
	accent.Printf("  ⚠ %s\n", text)
}

// Error prints a fatal problem.
func Error(text string) {
	failure.Printf("Error: %s\n", text)
}

// BlueText prints a plain blue line.
func BlueText(text string) {
	info.Println(text)
}

// YellowText prints a plain yellow line.
func YellowText(text string) {
	accent.Println(text)
}

// center left-pads text toward the middle of width. Only the left side is
// padded; Header's %-*s fills the right.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}
