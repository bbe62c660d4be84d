// haslate keeps a realtime view of Home Assistant entity state and local
// hardware signals, feeding an e-ink dashboard UI.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslate/haslate/app"
	"github.com/haslate/haslate/model"
)

func main() {
	configPath := flag.String("config", "config/haslate.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := app.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	store := model.NewEntityStore(log)
	clock := model.NewClockSource(log)
	sup := app.NewSupervisor(
		cfg.Application.HomeAssistantURI,
		cfg.Application.HomeAssistantToken,
		store, log,
	)

	cache := model.NewCache(model.Deps{
		Store:   store,
		Battery: model.NewBatterySource(log),
		Wifi:    model.NewWifiSource(log),
		Usb:     model.NewUsbSource(log),
		Clock:   clock,
		Sink:    sup,
		OnUpdate: func(m model.Model) {
			// The UI layer consumes these; until it attaches, trace them.
			log.WithField("model", m.Key()).Debug("model updated")
		},
	})

	// Instantiate the models the layout asks for. Widgets sharing a data
	// value share the model instance.
	for _, page := range cfg.Application.Pages {
		for _, item := range page.Items {
			if _, err := cache.Get(model.Kind(item.Type), item.Entity()); err != nil {
				log.WithError(err).WithField("page", page.Name).Warn("skipping layout item")
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	// Seconds ticks for the datetime models.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				clock.Tick(now)
			}
		}
	}()

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("supervisor exited")
	}
}
