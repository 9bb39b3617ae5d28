package main

import "github.com/jobfit-sh/jobfit/cmd"

func main() {
	cmd.Execute()
}
