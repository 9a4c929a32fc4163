package main

import "time"

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// IndexFlags Flag structs to decouple cobra from logic for testing.
type IndexFlags struct {
	Index int
	APIFlags
}

type AddFlags struct {
	Path string
	APIFlags
}

type LogsFlags struct {
	Raw bool // print entries as JSON instead of formatted lines
	APIFlags
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
