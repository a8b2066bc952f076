package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"driftwatch/internal/buffer"
	"driftwatch/internal/effectors"
	"driftwatch/internal/engine"
	"driftwatch/internal/nudge"
	"driftwatch/internal/scoring"
	"driftwatch/internal/senses"
	"driftwatch/internal/session"
	"driftwatch/internal/store"
	"driftwatch/internal/taskdetect"
)

func main() {
	log.Println("driftwatch - browsing attention monitor")
	log.Println("=======================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	// Config from environment
	statePath := os.Getenv("STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = "127.0.0.1:8744"
	}
	strategyName := os.Getenv("SCORING_STRATEGY") // "rules" or "ensemble" (default)
	discordToken := os.Getenv("DISCORD_TOKEN")
	discordChannel := os.Getenv("DISCORD_CHANNEL_ID")
	hostIdleSense := os.Getenv("HOST_IDLE_SENSE") != "false"

	os.MkdirAll(statePath, 0755)

	// Storage
	st, err := store.Open(statePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Sinks: Discord when configured, logging otherwise
	var sinks []effectors.Sink
	if discordToken != "" && discordChannel != "" {
		discord, err := effectors.NewDiscordSink(discordToken, discordChannel)
		if err != nil {
			log.Fatalf("Failed to start Discord sink: %v", err)
		}
		defer discord.Close()
		sinks = append(sinks, discord)
	} else {
		log.Println("[main] No Discord credentials, nudges go to the log")
		sinks = append(sinks, effectors.NewLogSink())
	}

	// Session machine with the sinks wired in for timer expiry
	sess := session.New(session.DefaultConfig(), st, func(message string) {
		for _, sink := range sinks {
			if err := sink.FocusModeEnded(message); err != nil {
				log.Printf("[main] Session-end notification failed: %v", err)
			}
		}
	})
	if err := sess.Load(); err != nil {
		log.Printf("Warning: failed to load session state: %v", err)
	}

	// Detector with optional signature overrides from the state directory
	detector := taskdetect.New(taskdetect.DefaultConfig())
	signatures, err := taskdetect.LoadSignatures(statePath)
	if err != nil {
		log.Fatalf("Failed to load task signatures: %v", err)
	}
	detector.SetSignatures(signatures)

	// Nudge policy with optional message overrides
	policyData, err := nudge.LoadPolicyData(statePath)
	if err != nil {
		log.Fatalf("Failed to load nudge policy: %v", err)
	}
	policy := nudge.New(policyData, sess, taskdetect.DefaultConfig().DetectionBar)

	// Pipeline
	queue := buffer.New(buffer.DefaultMaxQueue)
	strategy := scoring.New(strategyName)
	log.Printf("[main] Scoring strategy: %s", strategy.Name())

	eng, err := engine.New(engine.DefaultConfig(), queue, st, strategy, detector, sess, policy, sinks)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	eng.Start()

	// Senses
	httpSense := senses.NewHTTPSense(httpAddr, eng, sess)
	go func() {
		if err := httpSense.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	var idle *senses.IdleSense
	if hostIdleSense {
		idle = senses.NewIdleSense(eng)
		idle.Start()
	}

	log.Println("[main] All subsystems started. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[main] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSense.Shutdown(ctx); err != nil {
		log.Printf("[main] HTTP shutdown error: %v", err)
	}
	if idle != nil {
		idle.Stop()
	}
	eng.Stop()
	if err := sess.Save(); err != nil {
		log.Printf("[main] Failed to save session state: %v", err)
	}

	log.Println("[main] Shutdown complete")
}
