package main

import "github.com/sarchlab/qfetch/cmd"

func main() {
	cmd.Execute()
}
