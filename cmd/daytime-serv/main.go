package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nczempin/advnet/cli"
	"github.com/nczempin/advnet/server"
)

func main() {
	cli.Execute(newCommand())
}

func newCommand() *cobra.Command {
	app := cli.NewApp()
	cmd := &cobra.Command{
		Use:          "daytime-serv <port>",
		Short:        "Serve the current time to every client, one at a time",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Load(cmd.Flags(), cmd.OutOrStdout())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, app, args[0], nil)
		},
	}
	app.AddCommonFlags(cmd.Flags())
	app.AddServerFlags(cmd.Flags())
	cmd.Flags().String("format", server.DefaultStampFormat, "strftime pattern; output is cut to 24 bytes")
	return cmd
}

// run serves until ctx ends. ready, if set, receives the bound address.
func run(ctx context.Context, app *cli.App, portArg string, ready chan<- string) error {
	port, err := cli.ParsePort(portArg, 0)
	if err != nil {
		return err
	}
	stamper, err := server.NewStamper(app.Config.Daytime.Format)
	if err != nil {
		return err
	}

	ln, err := server.Listen("", port, app.Config.Server.Backlog)
	if err != nil {
		return err
	}
	app.WatchLevel()
	app.Logger.Debugf("listening on %s", ln.Addr())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	return server.New(ln, &server.DaytimeHandler{Stamper: stamper}, app.Logger).Serve(ctx)
}
