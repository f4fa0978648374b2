package main

import "github.com/vibast-solutions/ms-go-shiftstream/cmd"

func main() {
	cmd.Execute()
}
