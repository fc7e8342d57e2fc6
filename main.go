package main

import "github.com/raylibre/WaybackMachine/cmd"

func main() {
	cmd.Execute()
}
