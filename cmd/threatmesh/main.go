package main

import (
	"github.com/charmbracelet/log"

	"threatmesh/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal("application terminated", "error", err)
	}
}
