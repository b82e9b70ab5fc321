package main

import "crmhub/cmd"

func main() {
	cmd.Execute()
}
