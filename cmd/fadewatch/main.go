package main

import "github.com/pkaufman/fadewatch/internal/cli"

func main() {
	cli.Execute()
}
