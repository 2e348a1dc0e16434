package main

import "github.com/dbsmedya/pgfreeze/cmd/pgfreeze/cmd"

func main() {
	cmd.Execute()
}
