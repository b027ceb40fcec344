package main

import "collateralwatch/internal/cli"

func main() {
	cli.Execute()
}
