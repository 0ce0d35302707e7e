package main

import "github.com/atenlabs/atenbot/cmd"

func main() {
	cmd.Execute()
}
