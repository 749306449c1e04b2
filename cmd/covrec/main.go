package main

import "github.com/crytic/covrec/cmd/covrec/cmd"

func main() {
	err := cmd.Execute()
	if err != nil {
		panic(err.Error())
	}
}
