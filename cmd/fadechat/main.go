package main

import "github.com/fadechat/fadechat/cmd/fadechat/cmd"

func main() {
	cmd.Execute()
}
