// Command sonarfit-bridge serves the workout bridge methods over HTTP or a
// stdio frame channel, backed by the scripted simulator engine.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/goliatone/go-sonarfit/bridge"
	"github.com/goliatone/go-sonarfit/rpc"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Exit); err != nil {
		fmt.Fprintf(os.Stderr, "sonarfit-bridge: %v\n", err)
		os.Exit(1)
	}
}

// run parses args and executes the selected command. exit is used by kong
// for --help and --version.
func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer, exit func(int)) error {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("sonarfit-bridge"),
		kong.Description("Workout session bridge: initialize and presentWorkout over HTTP or stdio."),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
			"channel": bridge.ChannelName,
			"export":  rpc.DefaultManifestExport,
		},
		kong.Writers(stdout, os.Stderr),
		kong.Exit(exit),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.BindTo(stdin, (*io.Reader)(nil)),
		kong.BindTo(stdout, (*io.Writer)(nil)),
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kctx.Run(&cli.Globals)
}
