package main

import (
	"os"

	"github.com/YaganovValera/kafka-relay/internal/app"
	"github.com/YaganovValera/kafka-relay/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr, app.Run))
}
