package main

import "github.com/Sentinel-Gate/toolproxy/cmd/toolproxy/cmd"

func main() {
	cmd.Execute()
}
