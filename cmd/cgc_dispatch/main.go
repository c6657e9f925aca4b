package main

import (
	"log"
)

func main() {
	log.Println("[Main] Starting cgc_dispatch v0.1.0")
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("[Main] %v", err)
	}
}
