package main

import "syncq/cmd"

func main() {
	cmd.Run()
}
