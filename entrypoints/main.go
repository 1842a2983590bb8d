package main

import (
	"github.com/Laisky/codepatch/cmd"
)

func main() {
	cmd.Execute()
}
