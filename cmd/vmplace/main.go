package main

import "github.com/DrSkyle/vmplace/cmd/vmplace/commands"

func main() {
	commands.Execute()
}
