package main

import (
	"context"
	"os"

	"github.com/utkarsh5026/pararun/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
