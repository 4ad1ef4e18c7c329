package main

import "github.com/flirtduo/chatlock/internal/cli"

func main() {
	cli.Execute()
}
