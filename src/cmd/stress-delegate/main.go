package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"croquis-timer/src/session"
	"croquis-timer/src/singleinstance"
)

type stressOptions struct {
	n         int
	deadline  time.Duration
	image     string
	maxTime   time.Duration
	portStart int
	portEnd   int
}

type result struct {
	launched int
	ok       int32
	missing  int32
	failed   int32
	elapsed  time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-delegate",
		Short:         "Stress test session delegation to a resident instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := singleinstance.NewClient(singleinstance.PortRange{Start: opts.portStart, End: opts.portEnd})
			res := runWithOptions(*opts, client)
			report(cmd.OutOrStdout(), res)
			return nil
		},
	}

	ports := singleinstance.DefaultPorts()
	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")
	cmd.Flags().StringVar(&opts.image, "image", "stress.png", "image path sent in every queue")
	cmd.Flags().DurationVar(&opts.maxTime, "max-time", time.Minute, "max time sent in every policy")
	cmd.Flags().IntVar(&opts.portStart, "port-start", ports.Start, "first port scanned")
	cmd.Flags().IntVar(&opts.portEnd, "port-end", ports.End, "last port scanned")

	return cmd
}

func runWithOptions(opts stressOptions, client singleinstance.Client) result {
	var wg sync.WaitGroup
	res := result{launched: opts.n}
	req := singleinstance.Request{
		Queue:  []string{opts.image},
		Policy: session.Policy{MaxTime: opts.maxTime, FolderID: 1},
	}

	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), opts.deadline)
			defer cancel()
			delegated, err := client.TryStart(ctx, req)
			switch {
			case err != nil:
				atomic.AddInt32(&res.failed, 1)
			case delegated:
				atomic.AddInt32(&res.ok, 1)
			default:
				atomic.AddInt32(&res.missing, 1)
			}
		}()
	}
	wg.Wait()
	res.elapsed = time.Since(start)
	return res
}

func report(w io.Writer, res result) {
	fmt.Fprintf(w, "launched=%d ok=%d no_resident=%d err=%d elapsed=%s\n",
		res.launched, res.ok, res.missing, res.failed, res.elapsed)
}
