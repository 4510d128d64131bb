package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"siteadapters/internal/adapters/listings"
	"siteadapters/lib/browser/paginate"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Searches housing classifieds.",
}

var (
	searchType     string
	searchCostMin  int
	searchCostMax  int
	searchMaxPages int
	searchDetails  bool
)

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "rent", "One of rent, sale or sharing.")
	searchCmd.Flags().IntVar(&searchCostMin, "min", 0, "The minimum cost.")
	searchCmd.Flags().IntVar(&searchCostMax, "max", 0, "The maximum cost.")
	searchCmd.Flags().IntVar(&searchMaxPages, "pages", 3, "The maximum amount of result pages to read, 0 reads them all.")
	searchCmd.Flags().BoolVar(&searchDetails, "details", false, "Open every housing to read its area and location.")

	listingsCmd.AddCommand(citiesCmd)
	listingsCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(listingsCmd)
}

var citiesCmd = &cobra.Command{
	Use:   "cities <name or zipcode>",
	Short: "Completes a city name.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openListings()
		if err != nil {
			return err
		}
		cities, err := client.Cities(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		t := newTable()
		t.AppendHeader(table.Row{"City"})
		for _, city := range cities {
			t.AppendRow(table.Row{city.Name})
		}
		t.Render()
		return nil
	},
}

func parseQueryType(value string) (listings.QueryType, error) {
	switch value {
	case "rent":
		return listings.QueryRent, nil
	case "sale":
		return listings.QuerySale, nil
	case "sharing":
		return listings.QuerySharing, nil
	}
	return 0, fmt.Errorf("unknown search type %q", value)
}

var searchCmd = &cobra.Command{
	Use:   "search [cities...]",
	Short: "Lists the housings matching a search, cities are the names printed by the cities command.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		queryType, err := parseQueryType(searchType)
		if err != nil {
			return err
		}
		client, err := openListings()
		if err != nil {
			return err
		}

		query := listings.Query{
			Type:     queryType,
			CostMin:  searchCostMin,
			CostMax:  searchCostMax,
			MaxPages: searchMaxPages,
		}
		for _, city := range args {
			query.Cities = append(query.Cities, listings.City{Id: city, Name: city})
		}

		t := newTable()
		t.AppendHeader(table.Row{"Date", "Title", "Cost", "Area", "Location", "Url"})
		var found []listings.Housing
		for housing, err := range client.Search(ctx, query) {
			if errors.Is(err, paginate.ErrPageLimit) {
				slog.Info("more results are available, raise --pages to read them", "pages", searchMaxPages)
				break
			}
			if err != nil {
				return err
			}
			found = append(found, housing)
		}
		for _, housing := range found {
			if searchDetails {
				housing, err = client.Housing(ctx, housing)
				if err != nil {
					return err
				}
			}
			date := ""
			if !housing.Date.IsZero() {
				date = housing.Date.Format(time.DateTime)
			}
			area := ""
			if housing.Area > 0 {
				area = fmt.Sprintf("%g m²", housing.Area)
			}
			t.AppendRow(table.Row{
				date,
				housing.Title,
				fmt.Sprintf("%.0f %s", housing.Cost, housing.Currency),
				area,
				housing.Location,
				strings.TrimSpace(housing.Url),
			})
		}
		alignAmounts(t, 3)
		t.Render()
		return nil
	},
}
