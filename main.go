package main

import "github.com/agentic-research/i2run/cmd"

func main() {
	cmd.Execute()
}
