package main

import "github.com/novacart/ms-go-payments/cmd"

func main() {
	cmd.Execute()
}
