package model

import "time"

const (
	DefaultLanguage = "Python"
	DefaultMaxUsers = 10

	MinMaxUsers = 2
	MaxMaxUsers = 50
)

// RoomParams is what a create request may carry. Zero values mean defaults.
type RoomParams struct {
	Name     string `json:"name"`
	HostName string `json:"host_name"`
	Language string `json:"language,omitempty"`
	Code     string `json:"code,omitempty"`
	MaxUsers int    `json:"max_users,omitempty"`
	IsPublic *bool  `json:"is_public,omitempty"`
}

// Room is the full room descriptor returned by the management API.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	HostName     string        `json:"host_name"`
	Language     string        `json:"language"`
	Code         string        `json:"code"`
	MaxUsers     int           `json:"max_users"`
	IsPublic     bool          `json:"is_public"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
	UserCount    int           `json:"user_count"`
}

// RoomSummary is a listing entry. It never carries the document.
type RoomSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	HostName  string `json:"host_name"`
	Language  string `json:"language"`
	UserCount int    `json:"user_count"`
	MaxUsers  int    `json:"max_users"`
}

type Participant struct {
	ConnectionID string    `json:"connection_id"`
	UserName     string    `json:"user_name"`
	Color        string    `json:"color"`
	IsHost       bool      `json:"is_host"`
	Cursor       *Cursor   `json:"cursor,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Cursor is the last reported caret and optional selection end.
type Cursor struct {
	Position     Position  `json:"position"`
	SelectionEnd *Position `json:"selection_end,omitempty"`
}

// ExecRequest is the input of the code execution service.
type ExecRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Stdin    string `json:"stdin,omitempty"`
	Version  string `json:"version,omitempty"`
}

// ExecResult is the normalized outcome of one execution.
type ExecResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
	Language string `json:"language"`
	Stage    string `json:"stage,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Version  string `json:"version,omitempty"`
}

type Runtime struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
}
