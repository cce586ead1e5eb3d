package main

import "github.com/aweris/snapsync/cmd/snapsync/cmd"

func main() {
	cmd.Execute()
}
