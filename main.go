package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"waconsole/connection"
	"waconsole/database"
	"waconsole/provider"
	"waconsole/state"
	"waconsole/utils"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"
)

// waconsole pairing tool: runs one connect attempt against the configured
// provider, renders the QR code in the terminal and waits for the outcome.
//
//	waconsole [config.yaml] [company-id] [connection-name]
func main() {
	// Load configuration file
	cfg := state.State.Config
	cfg.SetDefaults()

	if len(os.Args) > 1 {
		cfg.Path = os.Args[1]
	}

	err := cfg.LoadConfig()
	if err != nil {
		panic(fmt.Errorf("failed to load config file: %s", err))
	}

	companyId := "default"
	connectionName := "Principal"
	if len(os.Args) > 2 {
		companyId = os.Args[2]
	}
	if len(os.Args) > 3 {
		connectionName = os.Args[3]
	}

	if cfg.DebugMode {
		developmentConfig := zap.NewDevelopmentConfig()
		developmentConfig.OutputPaths = append(developmentConfig.OutputPaths, "debug.log")
		state.State.Logger, err = developmentConfig.Build()
		if err != nil {
			panic(fmt.Errorf("failed to initialize development logger: %s", err))
		}
		state.State.Logger = state.State.Logger.Named("WaConsole_Dev")
	} else {
		productionConfig := zap.NewProductionConfig()
		state.State.Logger, err = productionConfig.Build()
		if err != nil {
			panic(fmt.Errorf("failed to initialize production logger: %s", err))
		}
		state.State.Logger = state.State.Logger.Named("WaConsole")
	}
	logger := state.State.Logger

	logger.Debug("loaded config file and started logger",
		zap.String("config_path", cfg.Path),
		zap.Bool("development_mode", cfg.DebugMode),
	)
	logger.Sync()

	// Create local location for time
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	locLoc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		logger.Fatal("failed to set time zone",
			zap.String("time_zone", cfg.TimeZone),
			zap.Error(err),
		)
	}
	state.State.LocalLocation = locLoc

	// Setup database
	db, err := database.Connect()
	if err != nil {
		logger.Fatal("could not connect to database",
			zap.Error(err),
		)
	}

	state.State.Database = db
	err = database.AutoMigrate()
	if err != nil {
		logger.Fatal("could not migrate database tables",
			zap.Error(err),
		)
	}

	client := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		time.Duration(cfg.Provider.RequestTimeoutSeconds)*time.Second,
		logger,
	)

	outcome := make(chan error, 1)

	manager, err := connection.NewManager(client, logger, connection.Options{
		PollInterval:            state.State.PollInterval(),
		PairingTimeout:          state.State.PairingTimeout(),
		ConnectedStatuses:       cfg.Provider.ConnectedStatuses,
		DefaultDepartmentName:   cfg.Connections.DefaultDepartmentName,
		WaitingPhonePlaceholder: cfg.Connections.WaitingPhonePlaceholder,
		Events: connection.Events{
			OnQRCode: func(connectionId uint, qrCode string) {
				fmt.Println("Scan the code below with WhatsApp:")
				qrterminal.GenerateHalfBlock(qrCode, qrterminal.L, os.Stdout)

				if cfg.DebugMode {
					png, err := utils.QRCodePNG(qrCode, 512)
					if err == nil {
						_ = os.WriteFile("qr.png", png, 0o644)
					}
				}
			},
			OnConnected: func(conn *database.Connection) {
				logger.Info("connection paired",
					zap.Uint("connection_id", conn.ID),
					zap.String("phone_number", conn.PhoneNumber),
				)
				outcome <- nil
			},
			OnFailed: func(connectionId uint, err error) {
				outcome <- err
			},
		},
	})
	if err != nil {
		logger.Fatal("failed to initialize connection manager",
			zap.Error(err),
		)
	}
	defer manager.Close()

	state.State.StartTime = time.Now().UTC()

	conn, err := manager.StartPairing(context.Background(), companyId, connectionName)
	if err != nil {
		logger.Fatal("failed to start pairing",
			zap.Error(err),
		)
	}
	logger.Info("pairing started",
		zap.Uint("connection_id", conn.ID),
		zap.String("session_id", conn.SessionID),
	)
	logger.Sync()

	if err := <-outcome; err != nil {
		logger.Fatal("pairing did not complete",
			zap.Error(err),
		)
	}

	logger.Info("all done, connection is ready")
	logger.Sync()
}
