package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds the connection flags of commands that talk to a running agent.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Username   string
	Password   string
	Insecure   bool
	CACert     string
}

// PrepareFlags holds flags for the prepare command.
type PrepareFlags struct {
	File     string
	Template string
	Database string
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Persist bool
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Persist            bool
	DoNotStartOnReboot bool
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
}

// FilesystemFlags holds flags for the fs command.
type FilesystemFlags struct {
	Path string
}

// VolumeFlags holds flags for the volume subcommands.
type VolumeFlags struct {
	Device     string
	MountPoint string
}

// TemplateCreateFlags holds flags for template create.
type TemplateCreateFlags struct {
	Type     string
	Database string
	Output   string
	Force    bool
}
