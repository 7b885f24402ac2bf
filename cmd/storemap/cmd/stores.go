package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jrsteele09/go-storemap-client/api"
	"github.com/jrsteele09/go-storemap-client/client"
	"github.com/jrsteele09/go-storemap-client/internal/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	storeName     string
	storeAddress  string
	storeEmail    string
	storeWebsite  string
	storeLat      float64
	storeLng      float64
	storeBrands   []string
	storePayments []string
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manage registered stores",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			list, err := c.Stores().List(ctx)
			if err != nil {
				return err
			}
			printStores(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var storesSearchCmd = &cobra.Command{
	Use:   "search <name>",
	Short: "Find stores by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			list, err := c.Stores().Search(ctx, args[0])
			if err != nil {
				return err
			}
			printStores(cmd.OutOrStdout(), list)
			return nil
		})
	},
}

var storesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a store",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := storeRequest()
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Stores().Create(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", st.Name, st.ID)
			return nil
		})
	},
}

var storesUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a store's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := storeRequest()
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Stores().Update(ctx, args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s (%s)\n", st.Name, st.ID)
			return nil
		})
	},
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if err := c.Stores().Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		})
	},
}

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "List the brand catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			brands, err := c.Brands().List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, b := range brands {
				fmt.Fprintf(w, "%s\t%s\n", b.ID, b.Name)
			}
			return w.Flush()
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{storesCreateCmd, storesUpdateCmd} {
		c.Flags().StringVar(&storeName, "name", "", "store name")
		c.Flags().StringVar(&storeAddress, "address", "", "street address")
		c.Flags().StringVar(&storeEmail, "email", "", "contact email")
		c.Flags().StringVar(&storeWebsite, "website", "", "website URL")
		c.Flags().Float64Var(&storeLat, "lat", 0, "latitude")
		c.Flags().Float64Var(&storeLng, "lng", 0, "longitude")
		c.Flags().StringSliceVar(&storeBrands, "brand", nil, "brand ID (repeatable)")
		c.Flags().StringSliceVar(&storePayments, "payment", nil, "payment condition: cash, creditcard, debitcard, pix, paypal")
		_ = c.MarkFlagRequired("name")
	}

	storesCmd.AddCommand(storesListCmd, storesSearchCmd, storesCreateCmd, storesUpdateCmd, storesDeleteCmd)
	rootCmd.AddCommand(storesCmd, brandsCmd)
}

func storeRequest() (api.StoreRequest, error) {
	req := api.StoreRequest{
		Name:      storeName,
		Address:   optional(storeAddress),
		Email:     optional(storeEmail),
		Website:   optional(storeWebsite),
		Latitude:  storeLat,
		Longitude: storeLng,
		Brands:    storeBrands,
	}
	for _, p := range storePayments {
		pc, err := api.ParsePaymentCondition(p)
		if err != nil {
			return api.StoreRequest{}, errors.Wrap(err, "--payment")
		}
		req.PaymentConditions = append(req.PaymentConditions, pc)
	}
	return req, nil
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}

func printStores(out io.Writer, list []api.Store) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADDRESS\tBRANDS\tPAYMENT")
	for _, st := range list {
		brands := make([]string, 0, len(st.Brands))
		for _, b := range st.Brands {
			brands = append(brands, b.Name)
		}
		payments := make([]string, 0, len(st.PaymentConditions))
		for _, p := range st.PaymentConditions {
			payments = append(payments, p.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.ID, st.Name, utils.Value(st.Address), strings.Join(brands, ","), strings.Join(payments, ","))
	}
	_ = w.Flush()
}
