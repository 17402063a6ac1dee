package main

import (
	"github.com/shizukutanaka/measure/cmd/measure/commands"
)

func main() {
	commands.Execute()
}
