package main

import "github.com/sessional/monoci/cmd"

func main() {
	cmd.Execute()
}
