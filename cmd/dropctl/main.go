// Command dropctl uploads one file to a DittoDrop server.
//
// Usage:
//
//	dropctl [flags] <address:port> <path_to_file> [name_on_server]
//
// Exit status is 0 only when the server confirmed the upload.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittodrop/internal/logger"
	"github.com/marmos91/dittodrop/pkg/uploader"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("dropctl", pflag.ContinueOnError)
	nativeStatus := flagSet.Bool("native-status", false, "decode the server status in host byte order")
	dialTimeout := flagSet.Duration("timeout", uploader.DefaultDialTimeout, "connection timeout")
	verbose := flagSet.BoolP("verbose", "v", false, "log connection details")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: dropctl [flags] <address:port> <path_to_file> [name_on_server]")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}

	rest := flagSet.Args()
	if len(rest) < 2 || len(rest) > 3 || !strings.Contains(rest[0], ":") {
		flagSet.Usage()
		return 1
	}

	logger.SetOutput(os.Stderr)
	logger.SetLevel("WARN")
	if *verbose {
		logger.SetLevel("DEBUG")
	}

	opts := uploader.Options{
		Address:      rest[0],
		Path:         rest[1],
		NativeStatus: *nativeStatus,
		DialTimeout:  *dialTimeout,
	}
	if len(rest) == 3 {
		opts.Name = rest[2]
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := uploader.Upload(ctx, opts)
	switch {
	case err == nil:
		fmt.Printf("+ Sent %s as %q (%d bytes in %s)\n", opts.Path, res.Name, res.Bytes, res.Elapsed.Round(time.Millisecond))
		fmt.Println("+ Server responded with ok")
		return 0
	case errors.Is(err, uploader.ErrRejected):
		fmt.Fprintln(os.Stderr, "- Server responded with error")
	case errors.Is(err, uploader.ErrConnectionLost):
		fmt.Fprintln(os.Stderr, "- Lost connection when asking server status")
	default:
		fmt.Fprintf(os.Stderr, "- %v\n", err)
	}
	return 1
}
