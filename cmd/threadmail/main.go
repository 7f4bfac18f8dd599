// Package main is the entry point for the threadmail operator CLI.
package main

import (
	"github.com/joho/godotenv"

	"github.com/threadmail/threadmail/internal/cli"
	"github.com/threadmail/threadmail/internal/logging"
)

func main() {
	_ = godotenv.Load()

	logging.Init(logging.Config{
		Level:  "warn",
		Format: "console",
	})

	cli.Execute()
}
