package main

import (
	"log/slog"
	"os"

	"unison-context/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		slog.Error("unison-context failed", "err", err)
		os.Exit(1)
	}
}
