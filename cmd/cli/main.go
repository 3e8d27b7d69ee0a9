package main

import (
	"github.com/mchmarny/photoguard/pkg/cli"
)

func main() {
	cli.Execute()
}
