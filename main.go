package main

import "dripflow/cmd"

func main() {
	cmd.Execute()
}
