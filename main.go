package main

import "github.com/firesend/engine/cmd"

func main() {
	cmd.Execute()
}
