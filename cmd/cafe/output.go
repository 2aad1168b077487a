package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/cafestream/internal/eventlog"
	"github.com/alfredjeanlab/cafestream/internal/model"
	"github.com/alfredjeanlab/cafestream/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func formatCents(c int64) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}

func printOrderTable(o *model.Order) {
	fmt.Printf("ID:          %s\n", o.ID)
	fmt.Printf("User:        %s\n", o.UserID)
	fmt.Printf("Status:      %s\n", ui.RenderStatus(string(o.Status)))
	fmt.Printf("Total:       %s\n", formatCents(o.TotalCents))
	for _, it := range o.Items {
		fmt.Printf("  %-16s x%d @ %s\n", it.ProductID, it.Quantity, formatCents(it.UnitPriceCents))
	}
	if !o.CreatedAt.IsZero() {
		fmt.Printf("Created At:  %s\n", o.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if !o.UpdatedAt.IsZero() {
		fmt.Printf("Updated At:  %s\n", o.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}

func printOrderListTable(orders []*model.Order, total int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tSTATUS\tITEMS\tTOTAL\tCREATED")
	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			o.ID,
			o.UserID,
			o.Status,
			len(o.Items),
			formatCents(o.TotalCents),
			o.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	fmt.Printf("\n%d orders (%d total)\n", len(orders), total)
}

func printProductListTable(products []*model.Product) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPRICE\tSTOCK\tTHRESHOLD")
	for _, p := range products {
		stock := fmt.Sprintf("%d", p.StockQuantity)
		if p.IsLowStock() {
			stock = ui.RenderAlert(stock)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, formatCents(p.PriceCents), stock, p.LowStockThreshold)
	}
	w.Flush()
}

// formatFields renders entry fields as sorted key=value pairs.
func formatFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + fields[k]
	}
	return strings.Join(parts, " ")
}

func printEntryTable(entries []eventlog.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTOPIC\tFIELDS")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.ID, e.Topic, formatFields(e.Fields))
	}
	w.Flush()
}
