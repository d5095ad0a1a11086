package main

import (
	"github.com/ilindan-dev/notifyforge/internal/app"
	"go.uber.org/fx"
)

// main is the entry point for the recovery-cron application (C10).
func main() {
	fx.New(app.RecoveryModule).Run()
}
