package main

import "pc-deal-watch/internal/cli"

func main() {
	cli.Execute()
}
