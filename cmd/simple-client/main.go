package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nczempin/advnet/cli"
	"github.com/nczempin/advnet/client"
)

func main() {
	cli.Execute(newCommand())
}

func newCommand() *cobra.Command {
	app := cli.NewApp()
	cmd := &cobra.Command{
		Use:          "simple-client <host> <port> <message>",
		Short:        "Connect to host, send one message and print the reply",
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Load(cmd.Flags(), cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, app, args[0], args[1], args[2])
		},
	}
	app.AddCommonFlags(cmd.Flags())
	app.AddConnectFlags(cmd.Flags())
	cmd.Flags().Int("response-limit", client.DefaultResponseLimit, "maximum reply bytes read; longer replies are truncated")
	return cmd
}

func run(cmd *cobra.Command, app *cli.App, host, service, message string) error {
	c, release, err := app.NewConnector()
	if err != nil {
		return err
	}
	defer release()

	conn, err := c.Connect(cmd.Context(), host, service)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Connection worked")
	app.Logger.WithField("candidate", conn.Candidate.String()).Debug("connected")

	cl := client.NewClient(conn, app.Config.Client.ResponseLimit)
	defer cl.Close()

	res, err := cl.Exchange([]byte(message))
	if res != nil && res.Short {
		fmt.Fprintln(out, "Not everything was written")
	}
	if err != nil {
		return errors.Wrap(err, "exchange")
	}
	if res.Truncated {
		app.Logger.Debugf("reply truncated at %d bytes", cl.ResponseLimit())
	}

	_, err = out.Write(res.Response)
	return err
}
