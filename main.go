package main

import "grimm.is/knockgate/cmd"

func main() {
	cmd.Execute()
}
