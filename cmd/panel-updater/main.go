package main

import "github.com/oshokin/panel-updater/cmd/panel-updater/cmd"

func main() {
	cmd.Execute()
}
