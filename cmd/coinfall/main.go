package main

import "github.com/mcoot/coinfall/internal/cli"

func main() {
	cli.Execute()
}
