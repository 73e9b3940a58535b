package main

import "github.com/kinesphere/resync/internal/cmd"

func main() {
	cmd.Execute()
}
