package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"fleet-monitor/geotrack/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using system environment variables")
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
