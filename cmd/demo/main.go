// Command demo replays a fixed call sequence against one identity and prints
// whether each call was limited.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/KanavDutta/creditfence/pkg/creditfence"
)

// CLI holds the demo flags. The defaults reproduce the reference run:
// 5 requests + 3 credits per 5s window, 17 calls, pause before call 10.
type CLI struct {
	Identity      string        `help:"Identity to check." default:"user1"`
	MaxRequests   int           `name:"max-requests" help:"Hard request count per window." default:"5"`
	WindowSeconds int           `name:"window-seconds" help:"Window length in seconds." default:"5"`
	MaxCredits    int           `name:"max-credits" help:"Overflow credits per window." default:"3"`
	Calls         int           `help:"Number of calls to make." default:"17"`
	PauseBefore   int           `name:"pause-before" help:"Call number to pause before (0 = never)." default:"10"`
	Pause         time.Duration `help:"Pause length (0 = window + 1s)." default:"0s"`
	Verbose       bool          `short:"v" help:"Print tier, count and credits for each call."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("creditfence-demo"),
		kong.Description("Replay a call sequence against a count+credit rate limiter."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(run(cli, os.Stdout, time.Now, time.Sleep))
}

func run(cli CLI, out io.Writer, now func() time.Time, sleep func(time.Duration)) error {
	limiter, err := creditfence.NewRateLimiter(cli.MaxRequests, cli.WindowSeconds, cli.MaxCredits,
		creditfence.WithClock(now),
		creditfence.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return err
	}
	defer limiter.Close()

	pause := cli.Pause
	if pause <= 0 {
		pause = limiter.Policy().Window + time.Second
	}

	for i := 1; i <= cli.Calls; i++ {
		if i == cli.PauseBefore {
			sleep(pause)
		}

		d, err := limiter.Allow(cli.Identity)
		if err != nil {
			return err
		}

		if cli.Verbose {
			fmt.Fprintf(out, "i=%d - %t (tier=%s count=%d credits=%d)\n", i, !d.Allowed, d.Tier, d.Count, d.Credits)
			continue
		}
		fmt.Fprintf(out, "i=%d - %t\n", i, !d.Allowed)
	}
	return nil
}
