// Package main is the entry point for the combatlog CLI tool, which
// aggregates decoded game-server packets into live encounter statistics
// and browses persisted encounters.
package main

import "github.com/pable/combatlog/cmd"

func main() {
	cmd.Execute()
}
