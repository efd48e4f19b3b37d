/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/ras-rm/auth-service/cmd"

func main() {
	cmd.Execute()
}
