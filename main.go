package main

import "github.com/MikeDominic92/keyless-kingdom/cmd"

func main() {
	cmd.Execute()
}
