package main

import (
	"bufio"
	"fmt"
	"net"
	"strconv"

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
		Use:          "daytime-cli <IPaddress> <port>",
		Short:        "Print the time reported by a daytime server",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Load(cmd.Flags(), cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, app, args[0], args[1])
		},
	}
	app.AddCommonFlags(cmd.Flags())
	app.AddConnectFlags(cmd.Flags())
	cmd.Flags().Bool("no-wait", false, "start reading without waiting for a line on stdin")
	cmd.Flags().Int("read-chunk", client.DefaultReadChunk, "bytes per read")
	return cmd
}

func run(cmd *cobra.Command, app *cli.App, host, portArg string) error {
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return errors.Errorf("inet_pton error for %s", host)
	}
	port, err := cli.ParsePort(portArg, 1)
	if err != nil {
		return err
	}

	c, release, err := app.NewConnector()
	if err != nil {
		return err
	}
	defer release()

	conn, err := c.Connect(cmd.Context(), ip.String(), strconv.Itoa(port))
	if err != nil {
		return err
	}
	cl := client.NewClient(conn, 0)
	defer cl.Close()

	out := cmd.OutOrStdout()
	if !app.Config.Client.NoWait {
		fmt.Fprintln(out, "Connect has completed. Press something")
		if _, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n'); err != nil {
			app.Logger.WithError(err).Debug("stdin")
		}
	}

	if _, err := cl.Copy(out, app.Config.Client.ReadChunk); err != nil {
		return errors.Wrap(err, "read error")
	}
	fmt.Fprintln(out, "Connection was closed.")
	return nil
}
