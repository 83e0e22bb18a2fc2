package main

import "github.com/andresmejia3/cocomask/cmd"

func main() {
	cmd.Execute()
}
