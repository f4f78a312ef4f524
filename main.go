package main

import "github.com/hiermem/hiermem/cmd"

func main() {
	cmd.Execute()
}
