package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/cafestream/internal/client"
	"github.com/alfredjeanlab/cafestream/internal/model"
)

var orderCmd = &cobra.Command{
	Use:     "order",
	Short:   "Place, inspect and progress orders",
	GroupID: "orders",
}

var orderCreateCmd = &cobra.Command{
	Use:   "create <product[:qty]>...",
	Short: "Place an order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		forUser, _ := cmd.Flags().GetString("for")

		items, err := parseItems(args)
		if err != nil {
			return err
		}
		order, err := apiClient.PlaceOrder(context.Background(), &client.PlaceOrderRequest{
			UserID: forUser,
			Items:  items,
		})
		if err != nil {
			return fmt.Errorf("placing order: %w", err)
		}

		if jsonOutput {
			printJSON(order)
		} else {
			printOrderTable(order)
		}
		return nil
	},
}

// parseItems turns "latte:2 espresso" into order items. A missing quantity
// means one.
func parseItems(args []string) ([]model.OrderItem, error) {
	items := make([]model.OrderItem, 0, len(args))
	for _, arg := range args {
		id, qtyStr, hasQty := strings.Cut(arg, ":")
		if id == "" {
			return nil, fmt.Errorf("invalid item %q", arg)
		}
		qty := 1
		if hasQty {
			n, err := strconv.Atoi(qtyStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid quantity in %q", arg)
			}
			qty = n
		}
		items = append(items, model.OrderItem{ProductID: id, Quantity: qty})
	}
	return items, nil
}

var orderShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, err := apiClient.GetOrder(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting order: %w", err)
		}
		if jsonOutput {
			printJSON(order)
		} else {
			printOrderTable(order)
		}
		return nil
	},
}

var orderStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Move an order to a new status (staff only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := model.OrderStatus(strings.ToUpper(args[1]))
		if !status.IsValid() {
			return fmt.Errorf("unknown status %q", args[1])
		}
		order, err := apiClient.UpdateStatus(context.Background(), args[0], status)
		if err != nil {
			return fmt.Errorf("updating status: %w", err)
		}
		if jsonOutput {
			printJSON(order)
		} else {
			printOrderTable(order)
		}
		return nil
	},
}

var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		for i, s := range statuses {
			statuses[i] = strings.ToUpper(s)
		}
		resp, err := apiClient.ListOrders(context.Background(), &client.ListOrdersRequest{
			UserID: user,
			Status: statuses,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("listing orders: %w", err)
		}
		if jsonOutput {
			printJSON(resp)
		} else {
			printOrderListTable(resp.Orders, resp.Total)
		}
		return nil
	},
}

func init() {
	orderCreateCmd.Flags().String("for", "", "place the order on behalf of a user (staff only)")

	orderListCmd.Flags().String("user", "", "only orders of this user")
	orderListCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	orderListCmd.Flags().Int("limit", 20, "maximum number of orders")
	orderListCmd.Flags().Int("offset", 0, "number of orders to skip")

	orderCmd.AddCommand(orderCreateCmd, orderShowCmd, orderStatusCmd, orderListCmd)
}
