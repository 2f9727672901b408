package main

import (
	"log"
	"net/http"
	"os"

	"github.com/hivedesk/hivedesk/internal/server"
)

func main() {
	h, err := server.NewHandler()
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("server: listening on :%s", port)
	if err := http.ListenAndServe(":"+port, h); err != nil {
		log.Fatalf("server: %v", err)
	}
}
