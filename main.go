package main

import "github.com/takeshy/tagstash/cmd"

func main() {
	cmd.Execute()
}
