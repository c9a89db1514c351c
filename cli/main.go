package main

import "niconico/cli/cmd"

func main() {
	cmd.Execute()
}
