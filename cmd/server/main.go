package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/wasteloop/auction-server/configs"
	"github.com/wasteloop/auction-server/internal/auction"
	"github.com/wasteloop/auction-server/internal/handlers/rest"
	"github.com/wasteloop/auction-server/internal/handlers/websocket"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
)

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug"
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Storage and collaborators
	db, err := store.New(cfg.Storage.Dir)
	if err != nil {
		log.Fatal("Error opening store: ", err)
	}
	defer db.Close()

	gateway := listings.NewGateway(db)
	manager := auction.NewManager(db, gateway, cfg.Auctions.Seeds)

	hub := websocket.NewHub(db, manager)
	hub.ConfigureTransport(cfg.WebSocket.PingInterval, cfg.WebSocket.MaxMessageSize)
	engine := auction.NewEngine(db, manager, gateway, hub)
	hub.BindEngine(engine)

	// Routes
	router := mux.NewRouter()
	rest.NewHandler(db, manager, engine).Routes(router)
	router.HandleFunc("/ws/auction/{auction_id:[0-9]+}", hub.HandleAuctionWebSocket)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Infof("Server started on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown: ", err)
	}
}
