package main

import "time"

// GlobalFlags holds persistent flags shared by all commands
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// RunFlags holds flags for the run command; they override config values
type RunFlags struct {
	Name            string
	Binary          string
	Host            string
	Port            int
	DataDir         string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	HealthInterval  time.Duration
	NoAutoRestart   bool
	MaxRestarts     uint32
	Env             []string

	APIListen     string
	MetricsListen string
}

// APIFlags holds connection flags for commands that talk to a running
// supervisor
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// HistoryFlags holds flags for the history command
type HistoryFlags struct {
	Limit int
}
