package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi/driver/alsa"
	gomidi "gitlab.com/gomidi/midi/v2"
)

func handleSigs(wg *sync.WaitGroup, sigs <-chan os.Signal, cancel func(), server *http.Server) {
	defer wg.Done()
	var counter int
	for sig := range sigs {
		if counter > 0 {
			fmt.Println("Dirty exit")
			os.Exit(1)
		}
		log.Info(fmt.Sprintf("signal received: %v", sig), logger.Debug)
		cancel()
		if server != nil {
			err := server.Close()
			if err != nil {
				log.Info(fmt.Sprintf("failed to close server: %v", err), logger.Warning)
			}
		}
		counter++
	}
}

// withSignals returns a context cancelled by SIGINT or SIGTERM, a second signal
// exits immediately. stop must be called before waiting on wg.
func withSignals(parent context.Context, wg *sync.WaitGroup, server *http.Server) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	var sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go handleSigs(wg, sigs, cancel, server)

	return ctx, func() {
		cancel()
		signal.Stop(sigs)
		close(sigs)
	}
}

func openTransport() (*alsa.Client, error) {
	client, err := alsa.New(
		cfg.Client.Name,
		alsa.WithLogger(log),
		alsa.WithDiscoveryRate(cfg.Transport.DiscoveryRate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open MIDI transport: %w", err)
	}
	return client, nil
}

func main() {
	err := rootCmd.Execute()
	gomidi.CloseDriver()
	closeLogs()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
