package main

import "github.com/tendwatch/tendwatch/cmd"

func main() {
	cmd.Execute()
}
