package main

import (
	"github.com/autopeer-io/vandash/cmd/vandash-agent/app"
)

func main() {
	app.NewApp().Run()
}
