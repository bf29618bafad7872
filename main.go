package main

import "github.com/audiolibrelab/wavedeck/cmd"

func main() {
	cmd.Execute()
}
