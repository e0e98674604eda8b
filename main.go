package main

import (
	"github.com/ColonelBlimp/impulsedetect/cmd"
	"github.com/ColonelBlimp/impulsedetect/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
