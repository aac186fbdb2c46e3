package main

import "chain-tracker/internal/cli"

func main() {
	cli.Execute()
}
