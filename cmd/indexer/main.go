// The dex-indexer binary watches configured EVM chains for DEX pool
// creations, swaps and token launches, and persists them for downstream
// consumers.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dexstream/indexer/cmd/indexer/flags"
	"github.com/dexstream/indexer/config/params"
	"github.com/dexstream/indexer/indexer/node"
	"github.com/dexstream/indexer/indexer/parsers"
	"github.com/dexstream/indexer/monitoring/prometheus"
	"github.com/dexstream/indexer/runtime/version"
)

func startNode(cliCtx *cli.Context) error {
	idx, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	idx.Start()
	return nil
}

// checkConfig loads and validates every chain file, then prints a summary.
func checkConfig(cliCtx *cli.Context) error {
	chains, err := params.LoadChainDir(cliCtx.String(flags.ChainConfigDir.Name))
	if err != nil {
		return err
	}
	for _, chain := range chains {
		if err := chain.Validate(parsers.Known); err != nil {
			return err
		}
	}
	out, err := json.MarshalIndent(chains, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	fmt.Fprintf(os.Stdout, "%d chain(s) valid\n", len(chains))
	return nil
}

// queryMonitoring fetches a route from a running indexer's monitoring port.
func queryMonitoring(cliCtx *cli.Context, route string) error {
	addr := cliCtx.String(flags.MonitoringAddr.Name)
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(cliCtx.Context, http.MethodGet, "http://"+addr+route, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "could not reach monitoring endpoint at %s", addr)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, strings.TrimSpace(string(body)))
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("indexer reported status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "dex-indexer"
	app.Usage = "multi-chain DEX pool, swap and token launch indexer"
	app.Version = version.GetVersion()
	app.Flags = flags.StartFlags
	app.Action = startNode
	app.Commands = []*cli.Command{
		{
			Name:   "start",
			Usage:  "Start indexing the configured chains",
			Flags:  flags.StartFlags,
			Action: startNode,
		},
		{
			Name:   "config",
			Usage:  "Validate the chain configuration files and print them",
			Flags:  []cli.Flag{flags.ChainConfigDir},
			Action: checkConfig,
		},
		{
			Name:  "health",
			Usage: "Query the health of a running indexer",
			Flags: []cli.Flag{flags.MonitoringAddr},
			Action: func(cliCtx *cli.Context) error {
				return queryMonitoring(cliCtx, "/healthz")
			},
		},
		{
			Name:  "rpc-stats",
			Usage: "Query the RPC endpoint statistics of a running indexer",
			Flags: []cli.Flag{flags.MonitoringAddr},
			Action: func(cliCtx *cli.Context) error {
				return queryMonitoring(cliCtx, "/rpcstatz")
			},
		},
	}

	app.Before = func(cliCtx *cli.Context) error {
		// A missing .env file is fine; flags and real env vars still apply.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Debug("No .env file loaded")
		}
		level, err := log.ParseLevel(cliCtx.String(flags.LogLevel.Name))
		if err != nil {
			return errors.Wrap(err, "invalid log level")
		}
		log.SetLevel(level)
		switch format := cliCtx.String(flags.LogFormat.Name); format {
		case "text":
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		default:
			return errors.Errorf("unknown log format %q", format)
		}
		log.AddHook(prometheus.NewLogrusCollector())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
