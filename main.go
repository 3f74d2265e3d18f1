package main

import "github.com/killallgit/finsight/cmd"

func main() {
	cmd.Execute()
}
