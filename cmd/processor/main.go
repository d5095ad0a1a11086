package main

import (
	"github.com/ilindan-dev/notifyforge/internal/app"
	"go.uber.org/fx"
)

// main is the entry point for the channel-processor application (C8).
func main() {
	fx.New(app.ProcessorModule).Run()
}
