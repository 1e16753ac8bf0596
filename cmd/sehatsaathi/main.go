package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sehat-saathi/internal/client"
	"sehat-saathi/internal/config"
	"sehat-saathi/internal/database"
	"sehat-saathi/internal/logging"
	"sehat-saathi/internal/models"
	"sehat-saathi/internal/realtime"
	"sehat-saathi/internal/responses"

	"go.uber.org/zap"
)

func main() {
	var (
		emergencyType = flag.String("type", "", "emergency type, e.g. Accident, Cardiac, Fire")
		name          = flag.String("name", "", "reporter name")
		message       = flag.String("message", "", "what happened")
		lat           = flag.Float64("lat", 0, "reporter latitude")
		lng           = flag.Float64("lng", 0, "reporter longitude")
		observeID     = flag.String("emergency", "", "observe an existing emergency instead of submitting one")
		simulate      = flag.Duration("simulate", 0, "add a simulated hospital reply after this delay (demo mode)")
	)
	flag.Parse()

	cfg := config.LoadConfig()
	logger := logging.New(logging.Options{
		File:      cfg.LogFile,
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		ToConsole: cfg.LogToConsole,
		Service:   "sehatsaathi",
	})
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	emergencyID := *observeID
	if emergencyID == "" {
		if *emergencyType == "" {
			fmt.Fprintln(os.Stderr, "either -type or -emergency is required")
			flag.Usage()
			os.Exit(2)
		}
		ev := models.EmergencyEvent{Type: *emergencyType, ReporterName: *name, Message: *message}
		if isSet("lat") && isSet("lng") {
			ev.Location = &models.GeoPoint{Lat: *lat, Lng: *lng}
		}

		submitter := client.NewSubmitter(cfg.EmergencyWebhookURL, cfg.RequestTimeout, logger)
		submitted, err := submitter.Submit(ctx, ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not send SOS: %v\n", err)
			logger.Sync()
			os.Exit(1)
		}
		emergencyID = submitted.ID
		fmt.Printf("SOS sent. Emergency id: %s\n", emergencyID)
		if client.IsLocalEmergencyID(emergencyID) {
			fmt.Println("The server did not return an id; replies may not be visible for this emergency.")
		}
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open response store", zap.Error(err))
	}
	defer closeStore()

	feed, err := realtime.NewFeed(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize realtime feed", zap.Error(err))
	}

	syncer := responses.New(store, feed, responses.Options{
		RetryDelays:  cfg.RetryDelays,
		PollInterval: cfg.PollInterval,
		PollWindow:   cfg.PollWindow,
		FetchTimeout: cfg.RequestTimeout,
		OnUpdate:     render,
	}, logger)
	defer syncer.Close()

	syncer.Observe(emergencyID)

	if *simulate > 0 {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*simulate):
			}
			bed := true
			if _, err := syncer.AddSimulated(models.HospitalResponse{
				HospitalName:  "Demo District Hospital",
				BedAvailable:  &bed,
				MedicalAdvice: "Keep the patient calm and hydrated until the ambulance arrives.",
				ETA:           "15 min",
			}); err != nil {
				logger.Warn("Failed to add simulated response", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	fmt.Println("\nStopped watching for hospital replies.")
}

func isSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (responses.Store, func(), error) {
	switch cfg.ResponseSource {
	case "hub":
		return client.NewResponseClient(cfg.HubBaseURL, cfg.RequestTimeout, logger), func() {}, nil
	case "db", "":
		repo, err := database.Open(ctx, cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown response source %q", cfg.ResponseSource)
}

func render(snap responses.Snapshot) {
	if snap.EmergencyID == "" {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== Emergency %s | feed: %s", snap.EmergencyID, snap.Status)
	if responses.PollingActive(snap.Status) {
		b.WriteString(" (polling)")
	}
	b.WriteString(" ===\n")
	if len(snap.Responses) == 0 {
		b.WriteString("Waiting for hospitals to respond...\n")
	}
	for _, r := range snap.Responses {
		label := r.HospitalName
		if r.IsSimulated() {
			label += " [simulated]"
		}
		fmt.Fprintf(&b, "%-8s %-32s %s", strings.ToUpper(string(r.Availability())), label, r.RespondedAt.Local().Format("15:04:05"))
		if r.ETA != "" {
			fmt.Fprintf(&b, "  ETA %s", r.ETA)
		}
		b.WriteString("\n")
		if r.MedicalAdvice != "" {
			fmt.Fprintf(&b, "         advice: %s\n", r.MedicalAdvice)
		}
		if r.Contact != nil && r.Contact.Contact != "" {
			fmt.Fprintf(&b, "         call: %s", r.Contact.Contact)
			if r.Contact.Lat != nil && r.Contact.Lng != nil {
				fmt.Fprintf(&b, "  map: https://www.google.com/maps?q=%v,%v", *r.Contact.Lat, *r.Contact.Lng)
			}
			b.WriteString("\n")
		}
	}
	fmt.Print(b.String())
}
