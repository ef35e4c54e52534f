package main

import (
	"errors"
	"io/fs"
	"log"
	"os"

	dotenv "github.com/joho/godotenv"

	"weatherstation-go/cmd"
)

// Set with -ldflags "-X main.version=... -X main.buildTime=...".
var (
	version   = "dev"
	buildTime = ""
)

func main() {
	// A .env file is optional on a node; NODE_* can come from the unit file.
	if err := dotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env file: %v", err)
	}
	if err := cmd.Execute(version, buildTime); err != nil {
		os.Exit(1)
	}
}
