package main

import "github.com/boddenberg/client-portal-bfa-go/internal/cli"

func main() {
	cli.Execute()
}
