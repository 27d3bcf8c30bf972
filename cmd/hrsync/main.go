// Package main is the entry point of hrsync, which provisions directory
// accounts from HR extracts
package main

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	execute()
}
