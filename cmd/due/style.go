package main

import "github.com/charmbracelet/lipgloss"

// Terminal styles. lipgloss drops colors when output is not a terminal.
var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFD7"))
	replyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
)
