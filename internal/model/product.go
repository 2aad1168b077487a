package model

import "time"

// Product is a menu item with tracked inventory.
type Product struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	PriceCents        int64     `json:"price_cents"`
	StockQuantity     int       `json:"stock_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLowStock reports whether stock is at or below the alert threshold.
func (p *Product) IsLowStock() bool {
	return p.StockQuantity <= p.LowStockThreshold
}

// CrossedThreshold reports whether a stock change from before to after moved
// the product into low stock. Changes that stay below the threshold do not
// count, so each dip raises one alert.
func CrossedThreshold(before, after, threshold int) bool {
	return before > threshold && after <= threshold
}
