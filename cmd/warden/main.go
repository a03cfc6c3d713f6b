package main

import "github.com/qcnet/warden/internal/cli"

func main() {
	cli.Execute()
}
