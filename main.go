package main

import (
	"github.com/luma/lantern/cmd"
)

func main() {
	cmd.Execute()
}
