package main

import (
	"log"

	"github.com/Oudwins/comfyrunner/runnerd/server"
)

func main() {
	serverInstance := server.New()
	if err := serverInstance.Start(); err != nil {
		log.Fatal("[Comfyrunner] Failed to start server: ", err)
	}
}
