package main

import "github/chapool/go-staking/cmd"

func main() {
	cmd.Execute()
}
