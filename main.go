package main

import "github.com/sudoflux/fluxbot/cmd"

func main() {
	cmd.Execute()
}
