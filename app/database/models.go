package database

import (
	"time"
)

// Run is the ledger entry of one sync cycle
type Run struct {
	ID         string
	Profile    string
	StartedAt  time.Time
	FinishedAt time.Time
	Added      int
	Patched    int
	Removed    int
	Resynced   int
	Skipped    int
	Failed     int
	Issues     int // feed items rejected by the parser
	Records    int // catalog size after the cycle
	Changed    bool
	CatalogURL string
	Error      string
}

// Asset is the last known remote copy of a published file
type Asset struct {
	Kind      string
	Name      string
	RemoteID  string
	URL       string
	UpdatedAt time.Time
}
