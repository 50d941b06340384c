package main

import "github.com/persai/persai/cmd"

func main() {
	cmd.Execute()
}
