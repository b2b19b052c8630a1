package main

import "logingest/cmd"

func main() {
	cmd.Execute()
}
