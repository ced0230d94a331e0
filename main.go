package main

import "github.com/aceteam-ai/opencorp/cmd"

func main() {
	cmd.Execute()
}
