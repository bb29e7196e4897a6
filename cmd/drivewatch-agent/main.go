package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/drivewatch/cmd/drivewatch-agent/app"
)

func main() {
	app.NewApp().Run()
}
