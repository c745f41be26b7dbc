package main

import "github.com/furisto/batchinfer/frontend/cli/cmd"

func main() {
	cmd.Execute()
}
