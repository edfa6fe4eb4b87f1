package cmd

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/quotepacer/pacer/provider"
)

var (
	fetchQuery    []string
	fetchCategory string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <provider> <endpoint>",
	Short: "Make one paced upstream call and print the body",
	Example: `  pacerd fetch brapi quote/PETR4
  pacerd fetch finnhub quote -q symbol=AAPL
  pacerd fetch fred series/observations -q series_id=GDP -c economic`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		req := provider.Request{
			Provider: strings.ToLower(args[0]),
			Endpoint: args[1],
			Query:    url.Values{},
		}
		for _, kv := range fetchQuery {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return errors.Errorf("invalid query %q, want key=value", kv)
			}
			req.Query.Add(k, v)
		}
		if fetchCategory != "" {
			c, ok := provider.ParseCategory(fetchCategory)
			if !ok {
				return errors.Errorf("unknown category %q", fetchCategory)
			}
			req.Category = c
		}

		a, err := build(cfg, logger)
		if err != nil {
			return errors.Wrap(err, "building components")
		}
		defer a.Close()

		res, err := a.loader.Load(cmd.Context(), req)
		if err != nil {
			return errors.Wrapf(err, "fetching %s/%s", req.Provider, req.Endpoint)
		}
		out := cmd.OutOrStdout()
		if _, err := out.Write(res.Body); err != nil {
			return err
		}
		if len(res.Body) > 0 && res.Body[len(res.Body)-1] != '\n' {
			_, err = out.Write([]byte{'\n'})
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringArrayVarP(&fetchQuery, "query", "q", nil, "query parameter as key=value (repeatable)")
	fetchCmd.Flags().StringVarP(&fetchCategory, "category", "c", "", "data category deciding the cache TTL")
}
