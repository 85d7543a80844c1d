package main

import (
	"github.com/glootie/exec-service/cmd"
	"github.com/glootie/exec-service/runner"
)

func main() {
	runner.PurgeStaleTempDirs()
	cmd.Execute()
}
