package main

import "github.com/MeKo-Tech/quadpick/cmd/quadpick/cmd"

func main() {
	cmd.Execute()
}
