// Command optctl runs cart optimization offline against a JSON cart file.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"partsopt/internal/integrations/csvfeed"
	"partsopt/internal/model"
	"partsopt/internal/opt"
)

func main() {
	app := &cli.App{
		Name:  "optctl",
		Usage: "offline cart optimization tools",
		Commands: []*cli.Command{
			{
				Name:      "optimize",
				Usage:     "optimize a cart from a JSON file and print the purchase plan",
				ArgsUsage: "<cart.json>",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "tax-rate", Value: 0.0825, Usage: "sales tax rate applied to part subtotals"},
					&cli.IntFlag{Name: "max-passes", Value: 0, Usage: "improvement pass limit (0 uses the default)"},
					&cli.IntFlag{Name: "max-evals", Value: 0, Usage: "move evaluation budget (0 uses the default)"},
					&cli.BoolFlag{Name: "metrics", Usage: "include solver run metrics in the output"},
				},
				Action: runOptimize,
			},
			{
				Name:      "check-feed",
				Usage:     "parse a supplier CSV price feed and report row errors",
				ArgsUsage: "<feed.csv>",
				Action:    runCheckFeed,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runOptimize(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one cart file argument", 2)
	}
	data, err := os.ReadFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	var cart model.CartIn
	if err := json.Unmarshal(data, &cart); err != nil {
		return fmt.Errorf("parse cart: %w", err)
	}
	result, m, err := opt.Solve(opt.Problem{
		Items:     cart.Items,
		TaxRate:   c.Float64("tax-rate"),
		MaxPasses: c.Int("max-passes"),
		MaxEvals:  c.Int("max-evals"),
	})
	if err != nil {
		return err
	}
	out := map[string]any{"result": result}
	if c.Bool("metrics") {
		out["metrics"] = m
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runCheckFeed(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one feed file argument", 2)
	}
	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	rows, rowErrs, err := csvfeed.ParseOffers(f)
	if err != nil {
		return err
	}
	fmt.Printf("rows: %d\n", len(rows))
	for _, e := range rowErrs {
		fmt.Printf("error: %s\n", e)
	}
	if len(rowErrs) > 0 {
		return cli.Exit(fmt.Sprintf("%d rows rejected", len(rowErrs)), 1)
	}
	return nil
}
