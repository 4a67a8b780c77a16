package main

import (
	"fmt"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/gethiox/midiroute/internal/pkg/midi/router"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor NAME...",
	Short: "Print events arriving on the named input ports",
	Long: `Opens every NAME as an input port and prints incoming events until
interrupted. Ports of devices not connected yet are bound once they appear.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openTransport()
		if err != nil {
			return err
		}
		defer client.Close()

		r := router.New(client, router.WithLogger(log))

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		printer := router.HandleFunc(func(msg router.Message) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintf(out, "%s %s %s\n",
				colorForString(au, msg.Port).String(),
				au.Gray(12, msg.Source.String()).String(),
				au.Reset(msg.Event.String()).Colorize(levelColor(logger.InfoLvl)).String(),
			)
		})

		var inputs []*router.Input
		defer func() {
			for _, in := range inputs {
				_ = in.Close()
			}
		}()
		for _, name := range args {
			in, err := r.OpenInput(name)
			if err != nil {
				return err
			}
			inputs = append(inputs, in)
			err = r.RegisterProcessor(in, printer)
			if err != nil {
				return err
			}
		}
		for _, line := range overview(au, r.Status()) {
			log.Info(line, logger.Info)
		}

		var wg sync.WaitGroup
		ctx, stop := withSignals(cmd.Context(), &wg, nil)
		err = r.Run(ctx)
		stop()
		wg.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
