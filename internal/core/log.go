package core

const (
	LogClassInfo         = 0
	LogClassAlert        = 1
	LogClassProgram      = 2
	LogClassNotification = 3
	LogClassPassive      = 4
	LogClassCommand      = 5
	LogClassState        = 6
	LogClassText         = 7
)

// LogEntry is one line of the monitoring history.
// Time is in unix seconds; Lineno orders entries written within the same second.
type LogEntry struct {
	Time               int64
	Lineno             int64
	Class              int
	Type               string
	HostName           string
	ServiceDescription string
	State              int
	StateType          string
	Attempt            int
	PluginOutput       string
	ContactName        string
	CommandName        string
	Message            string
}

// LogSink receives history entries produced by the core.
type LogSink interface {
	Append(e LogEntry)
}
