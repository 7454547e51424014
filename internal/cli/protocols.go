package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	flashroute "github.com/goliatone/go-flashroute"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/devkit"
	"github.com/goliatone/go-flashroute/protocol"
	flashquery "github.com/goliatone/go-flashroute/query"
)

func NewProtocolsCommand(rootOpts *RootOptions) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "protocols [name|id]",
		Short: "List the protocol table or describe one entry",
		Long: `List the seven venue conventions with their selectors, settlement
style and acknowledgement, or describe a single protocol by name or id.
With --config, entries outside protocols.enabled are reported disabled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocols(cmd, rootOpts, args, enabledOnly)
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled-only", false, "list only enabled protocols")
	return cmd
}

func runProtocols(cmd *cobra.Command, opts *RootOptions, args []string, enabledOnly bool) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	engineOpts, err := engineOptions(opts, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Failure(ExitCommandError, "load configuration", err, nil)
	}
	eng, err := flashroute.New(devkit.EngineAddress, engineOpts...)
	if err != nil {
		return formatter.Failure(ExitCommandError, "build engine", err, nil)
	}
	queries := flashquery.NewListProtocolsQuery(eng)
	ctx := cmd.Context()

	if len(args) == 1 {
		id, err := core.ParseProtocol(args[0])
		if err != nil {
			return formatter.Failure(ExitCommandError, "parse protocol", err, nil)
		}
		info, err := flashquery.NewDescribeProtocolQuery(eng).Query(ctx, flashquery.DescribeProtocolMessage{Protocol: id})
		if err != nil {
			return formatter.Failure(ExitCommandError, "describe protocol", err, nil)
		}
		return formatter.Success(info, func(w io.Writer) { printProtocolInfo(w, info) })
	}

	infos, err := queries.Query(ctx, flashquery.ListProtocolsMessage{EnabledOnly: enabledOnly})
	if err != nil {
		return formatter.Failure(ExitCommandError, "list protocols", err, nil)
	}
	return formatter.Success(infos, func(w io.Writer) { printProtocolTable(w, infos) })
}

func printProtocolTable(w io.Writer, infos []protocol.Info) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tOUTBOUND\tCALLBACK\tSETTLEMENT\tACK")
	for _, info := range infos {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s\t%s\n",
			info.ID, info.Name, info.Enabled, info.OutboundSelector, info.CallbackSelector, info.Settlement, info.Ack)
	}
	_ = tw.Flush()
}

func printProtocolInfo(w io.Writer, info protocol.Info) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%d\n", info.ID)
	fmt.Fprintf(tw, "name\t%s\n", info.Name)
	fmt.Fprintf(tw, "enabled\t%t\n", info.Enabled)
	fmt.Fprintf(tw, "outbound\t%s %s\n", info.OutboundSelector, info.OutboundMethod)
	fmt.Fprintf(tw, "callback\t%s %s\n", info.CallbackSelector, info.CallbackMethod)
	fmt.Fprintf(tw, "settlement\t%s\n", info.Settlement)
	fmt.Fprintf(tw, "ack\t%s\n", info.Ack)
	fmt.Fprintf(tw, "fee model\t%s\n", info.FeeModel)
	fmt.Fprintf(tw, "handshake\t%t\n", info.Handshake)
	fmt.Fprintf(tw, "arrayed\t%t\n", info.Arrayed)
	fmt.Fprintf(tw, "carries initiator\t%t\n", info.CarriesInitiator)
	_ = tw.Flush()
}
