package main

import (
	"github.com/ilindan-dev/notifyforge/internal/app"
	"go.uber.org/fx"
)

// main is the entry point for the status-consumer application (C9).
func main() {
	fx.New(app.StatusModule).Run()
}
