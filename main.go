package main

import (
	"fmt"

	"github.com/netra-systems/ws-fabric/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
