package main

import (
	"context"
	"log"
	"time"

	"marshtalk/simulator"
)

func main() {
	config := simulator.SimConfig{
		NumUsers:         20,
		SimulationTime:   5 * time.Minute,
		MessageFrequency: 120.0,
		ReadFrequency:    90.0,
		HideRate:         0.2,
		ZipfS:            1.07,
		ServerURL:        "http://localhost:8080",
	}

	sim := simulator.NewSimulator(config)
	ctx, cancel := context.WithTimeout(context.Background(), config.SimulationTime)
	defer cancel()

	log.Printf("Starting simulation with configuration:")
	log.Printf("- Server URL: %s", config.ServerURL)
	log.Printf("- Number of users: %d", config.NumUsers)
	log.Printf("- Simulation time: %v", config.SimulationTime)
	log.Printf("- Message frequency: %.2f messages/user/hour", config.MessageFrequency)
	log.Printf("- Read frequency: %.2f reads/user/hour", config.ReadFrequency)
	log.Printf("- Hide rate: %.1f%%", config.HideRate*100)
	log.Printf("- Zipf parameter: %.2f", config.ZipfS)

	if err := sim.Run(ctx); err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}

	metrics := sim.GetMetrics()
	log.Printf("\nSimulation completed. Final metrics:")
	log.Printf("- Total users: %d", metrics.TotalUsers)
	log.Printf("- Total requests: %d", metrics.TotalRequests)
	log.Printf("- Failed requests: %d", metrics.FailedRequests)
	log.Printf("- Messages sent: %d", metrics.TotalMessages)
	log.Printf("- Read receipts: %d", metrics.TotalReads)
	log.Printf("- Threads hidden: %d", metrics.TotalHides)
	log.Printf("- Average latency: %v", metrics.AverageLatency)
}
