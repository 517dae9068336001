// Command peak-tracker tracks top-N peak cycle-average power draw of a
// source sensor and publishes the results over HTTP and MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/peak-tracker/internal/config"
	"github.com/sweeney/peak-tracker/internal/coordinator"
	"github.com/sweeney/peak-tracker/internal/ledger"
	"github.com/sweeney/peak-tracker/internal/live"
	"github.com/sweeney/peak-tracker/internal/mqtt"
	"github.com/sweeney/peak-tracker/internal/sample"
	"github.com/sweeney/peak-tracker/internal/sched"
	"github.com/sweeney/peak-tracker/internal/stats"
	"github.com/sweeney/peak-tracker/internal/status"
	"github.com/sweeney/peak-tracker/internal/store"
	"github.com/sweeney/peak-tracker/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config file")
	resync := flag.Bool("resync", false, "Rebuild peaks from the start of the current month, then exit")
	backfillToday := flag.Bool("backfill-today", false, "Replay today's completed cycles, then exit")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: load config %s: %v", *configPath, err)
	}

	if err := run(cfg, *resync, *backfillToday); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, resync, backfillToday bool) error {
	ctx := context.Background()

	st, err := store.New(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	l, err := ledger.New(cfg.NumPeaks, cfg.Mode())
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	querier, err := stats.NewInfluxQuerier(stats.InfluxConfig(cfg.Influx))
	if err != nil {
		return fmt.Errorf("init statistics backend: %w", err)
	}
	defer querier.Close()

	var window *sample.Window
	if cfg.ActiveWindow != nil {
		// Validated at load time.
		window, _ = cfg.ActiveWindow.ToWindow()
	}

	coordCfg := coordinator.Config{
		SourceEntity: cfg.SourceEntity,
		GateTopic:    cfg.GateTopic,
		AttrsTopic:   cfg.SourceAttrsTopic,
		Cycle:        cfg.CycleType,
		MonthlyReset: cfg.MonthlyReset,
		PricePerKW:   cfg.PricePerKW,
		Scaling:      cfg.PowerScalingFactor,
		ActiveWindow: window,
	}

	// One-shot modes run the backfill without MQTT: gating reflects the
	// current state and is not applied to historical cycles.
	if resync || backfillToday {
		coord := coordinator.New(coordCfg, l, querier, nil, st)
		if err := coord.Setup(); err != nil {
			return err
		}
		if resync {
			return coord.ResyncCurrentMonth(ctx, time.Now())
		}
		return coord.CatchUpFromMidnight(ctx, time.Now())
	}

	// Live cycle accumulator, fed by MQTT source readings.
	liveSt, err := store.New(livePath(cfg.StorePath))
	if err != nil {
		return fmt.Errorf("init live store: %w", err)
	}
	acc := live.NewAccumulator(cfg.CycleType)
	if rec, err := liveSt.LoadLive(); err == nil && rec != nil {
		acc.Restore(rec.Live, time.Now())
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		SourceEntity: cfg.SourceEntity,
		SourceTopic:  cfg.SourceTopic,
		GateTopic:    cfg.GateTopic,
		CycleType:    string(cfg.CycleType),
		NumPeaks:     cfg.NumPeaks,
		MonthlyReset: cfg.MonthlyReset,
		OnePerDay:    cfg.OnePerDay,
		PricePerKW:   cfg.PricePerKW,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTPAddr,
	})

	// The MQTT message handler needs the coordinator for gating and
	// scaling, and the coordinator needs the client for state lookup.
	// Messages can arrive before the coordinator exists; drop those.
	var (
		accMu sync.Mutex
		coord *coordinator.Coordinator
	)

	var client *mqtt.RealClient
	if cfg.MQTT.Broker != "" {
		handler := func(topic, payload string) {
			if cfg.SourceTopic == "" || topic != cfg.SourceTopic {
				return
			}
			accMu.Lock()
			defer accMu.Unlock()
			if coord == nil {
				return
			}
			now := time.Now()
			feedLive(acc, coord, payload, now)
			tracker.SetLiveAverage(acc.AverageKW(now))
			if err := liveSt.SaveLive(acc.Snapshot()); err != nil {
				log.Printf("save live state: %v", err)
			}
		}
		client, err = mqtt.NewRealClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, subscribeTopics(cfg), handler)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer client.Close()
	}

	var states mqtt.StateSource
	if client != nil {
		states = client
	}
	c := coordinator.New(coordCfg, l, querier, states, st)
	if err := c.Setup(); err != nil {
		return err
	}

	c.SetNotify(func(reason string, now time.Time) {
		tracker.UpdatePeaks(c.Values(), c.Timestamps(), c.Average(), c.EstimatedCost(),
			c.PreviousMonth(), c.PreviousMonthAverage(), reason, now)
		if client != nil {
			event := mqtt.PeaksEvent{
				Timestamp:  now,
				Reason:     reason,
				Values:     c.Values(),
				ValueTimes: c.Timestamps(),
				AverageKW:  c.Average(),
				Cost:       c.EstimatedCost(),
			}
			if err := client.PublishPeaks(event); err != nil {
				log.Printf("publish peaks event: %v", err)
			}
			tracker.SetMQTTConnected(client.IsConnected())
		}
	})

	accMu.Lock()
	coord = c
	accMu.Unlock()

	// Populate the tracker with restored state before anything is served.
	tracker.UpdatePeaks(c.Values(), c.Timestamps(), c.Average(), c.EstimatedCost(),
		c.PreviousMonth(), c.PreviousMonthAverage(), "startup", time.Now())

	if client != nil {
		tracker.SetMQTTConnected(client.IsConnected())
		startup := mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}
		if err := client.PublishSystem(startup); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTPAddr)
	}

	// Recover cycles missed while the daemon was down.
	if err := c.CatchUpFromMidnight(ctx, time.Now()); err != nil {
		log.Printf("startup catch-up failed: %v", err)
	}

	scheduler := sched.New(nil)
	defer scheduler.Close()

	scheduler.Schedule(sched.Spec{Minutes: cfg.CycleType.ScheduleMinutes()}, func(now time.Time) {
		if err := c.RunPeriodicUpdate(ctx, now); err != nil {
			log.Printf("period update error: %v", err)
		}
		if client != nil {
			tracker.SetMQTTConnected(client.IsConnected())
		}
	})

	// Daily check at 00:02; a no-op except on the first of the month.
	if cfg.MonthlyReset {
		scheduler.Schedule(sched.Spec{Hours: []int{0}, Minutes: []int{2}}, func(now time.Time) {
			if err := c.MonthlyReset(now); err != nil {
				log.Printf("monthly reset error: %v", err)
			}
		})
	}

	log.Printf("started: source=%s cycle=%s peaks=%d broker=%s", cfg.SourceEntity, cfg.CycleType, cfg.NumPeaks, cfg.MQTT.Broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.Printf("received %v, shutting down", s)

	if client != nil {
		signalName := "UNKNOWN"
		if s == syscall.SIGINT {
			signalName = "SIGINT"
		} else if s == syscall.SIGTERM {
			signalName = "SIGTERM"
		}
		event := mqtt.SystemEvent{
			Timestamp: time.Now(),
			Event:     "SHUTDOWN",
			Reason:    signalName,
			Retained:  true,
		}
		if err := client.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		} else {
			log.Printf("published shutdown event")
		}
	}
	return nil
}

// feedLive applies the gating and scaling rules to one live source reading
// and folds it into the accumulator.
func feedLive(acc *live.Accumulator, coord *coordinator.Coordinator, payload string, now time.Time) {
	if !coord.GateAllowed() {
		acc.Suppress()
		return
	}
	state := strings.TrimSpace(payload)
	if state == "" || state == "unavailable" || state == "unknown" {
		acc.Suppress()
		return
	}
	value, err := strconv.ParseFloat(state, 64)
	if err != nil {
		log.Printf("invalid source reading %q: %v", state, err)
		acc.Suppress()
		return
	}
	acc.Add(value*coord.ScalingFactor(), now)
}

// subscribeTopics collects the configured sensor topics.
func subscribeTopics(cfg *config.Config) []string {
	var topics []string
	for _, t := range []string{cfg.SourceTopic, cfg.GateTopic, cfg.SourceAttrsTopic} {
		if t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// livePath places the live accumulator state next to the ledger store.
func livePath(storePath string) string {
	if strings.HasSuffix(storePath, ".json") {
		return strings.TrimSuffix(storePath, ".json") + "_live.json"
	}
	return storePath + "_live"
}
