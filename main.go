package main

import "github.com/ValentinKolb/dChat/cmd"

func main() {
	cmd.Execute()
}
