package main

import "github.com/voxserve/voxserve/services/transcriber/cli"

func main() {
	cli.Execute()
}
