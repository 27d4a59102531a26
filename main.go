package main

import "github.com/ValentinKolb/ipcmux/cmd"

func main() {
	cmd.Execute()
}
