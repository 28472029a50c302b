package main

import "github.com/moxxy-run/moxxy/cmd"

func main() {
	cmd.Execute()
}
