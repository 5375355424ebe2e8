package main

import (
	"github.com/kmon-debug/kmon/cmd/kmon/cmds"
)

func main() {
	cmds.New().Execute()
}
