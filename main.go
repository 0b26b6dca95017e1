package main

import "github.com/muajs/mua-benchmarking/cmd"

func main() {
	cmd.Execute()
}
