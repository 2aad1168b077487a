package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/model"
)

var productCmd = &cobra.Command{
	Use:     "product",
	Aliases: []string{"products"},
	Short:   "Manage the menu and stock",
	GroupID: "orders",
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products with stock levels",
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := apiClient.ListProducts(context.Background())
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}
		if jsonOutput {
			printJSON(products)
		} else {
			printProductListTable(products)
		}
		return nil
	},
}

var productAddCmd = &cobra.Command{
	Use:   "add <id> <name>",
	Short: "Add or replace a product (staff only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		price, _ := cmd.Flags().GetInt64("price")
		stock, _ := cmd.Flags().GetInt("stock")
		threshold, _ := cmd.Flags().GetInt("threshold")

		p, err := apiClient.AddProduct(context.Background(), &model.Product{
			ID:                args[0],
			Name:              args[1],
			PriceCents:        price,
			StockQuantity:     stock,
			LowStockThreshold: threshold,
		})
		if err != nil {
			return fmt.Errorf("adding product: %w", err)
		}
		if jsonOutput {
			printJSON(p)
		} else {
			printProductListTable([]*model.Product{p})
		}
		return nil
	},
}

var productRestockCmd = &cobra.Command{
	Use:   "restock <id> <quantity>",
	Short: "Add stock to a product (staff only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.Atoi(args[1])
		if err != nil || qty <= 0 {
			return fmt.Errorf("quantity must be a positive integer, got %q", args[1])
		}
		p, err := apiClient.Restock(context.Background(), args[0], qty)
		if err != nil {
			return fmt.Errorf("restocking: %w", err)
		}
		if jsonOutput {
			printJSON(p)
		} else {
			printProductListTable([]*model.Product{p})
		}
		return nil
	},
}

func init() {
	productAddCmd.Flags().Int64("price", 0, "price in cents")
	productAddCmd.Flags().Int("stock", 0, "initial stock quantity")
	productAddCmd.Flags().Int("threshold", 0, "low-stock alert threshold")

	productCmd.AddCommand(productListCmd, productAddCmd, productRestockCmd)
}
