package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	"github.com/gethiox/midiroute/internal/pkg/player"
	"github.com/spf13/cobra"
)

var bpm int

var playCmd = &cobra.Command{
	Use:   "play FILE NAME",
	Short: "Play note events of a Standard MIDI File into the named output port",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read midi file: %w", err)
		}

		client, err := openTransport()
		if err != nil {
			return err
		}
		defer client.Close()

		r := router.New(client, router.WithLogger(log))
		out, err := r.OpenOutput(args[1])
		if err != nil {
			return err
		}
		defer out.Close()

		var wg sync.WaitGroup
		ctx, stop := withSignals(cmd.Context(), &wg, nil)
		defer func() {
			stop()
			wg.Wait()
		}()

		// port arrivals still have to be handled while playing
		done := make(chan error, 1)
		go func() {
			done <- r.Run(ctx)
		}()

		log.Info(fmt.Sprintf("Playing %s at %d bpm", args[0], bpm), logger.Info)
		err = player.New(data, log).Play(ctx, out, bpm)
		r.Quit()
		if runErr := <-done; err == nil {
			err = runErr
		}
		return err
	},
}

func init() {
	playCmd.Flags().IntVar(&bpm, "bpm", 120, "playback tempo")
	rootCmd.AddCommand(playCmd)
}
